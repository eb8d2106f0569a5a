package activity

import (
	"time"

	"github.com/lunamall/seckill/pkg/mmodel"
	"github.com/shopspring/decimal"
)

// ActivityPostgreSQLModel represents the activity entity into SQL context.
type ActivityPostgreSQLModel struct {
	ID           string
	Name         string
	Status       string
	StartTime    time.Time
	EndTime      time.Time
	TotalStock   int64
	SoldCount    int64
	Price        decimal.Decimal
	PerUserLimit int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ToEntity converts an ActivityPostgreSQLModel to a domain Activity.
func (m *ActivityPostgreSQLModel) ToEntity() *mmodel.Activity {
	return &mmodel.Activity{
		ID:           m.ID,
		Name:         m.Name,
		Status:       m.Status,
		StartTime:    m.StartTime,
		EndTime:      m.EndTime,
		TotalStock:   m.TotalStock,
		SoldCount:    m.SoldCount,
		Price:        m.Price,
		PerUserLimit: m.PerUserLimit,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// FromEntity converts a domain Activity to an ActivityPostgreSQLModel.
func (m *ActivityPostgreSQLModel) FromEntity(a *mmodel.Activity) {
	m.ID = a.ID
	m.Name = a.Name
	m.Status = a.Status
	m.StartTime = a.StartTime
	m.EndTime = a.EndTime
	m.TotalStock = a.TotalStock
	m.SoldCount = a.SoldCount
	m.Price = a.Price
	m.PerUserLimit = a.PerUserLimit
	m.CreatedAt = a.CreatedAt
	m.UpdatedAt = a.UpdatedAt
}
