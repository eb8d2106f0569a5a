package constant

import "errors"

var (
	ErrActivityNotFound        = errors.New("0001")
	ErrActivityNotActive       = errors.New("0002")
	ErrActivityNotStarted      = errors.New("0003")
	ErrActivityEnded           = errors.New("0004")
	ErrInsufficientStock       = errors.New("0005")
	ErrUserLimitExceeded       = errors.New("0006")
	ErrDailyLimitExceeded      = errors.New("0007")
	ErrGlobalLimitExceeded     = errors.New("0008")
	ErrRateLimitGlobal         = errors.New("0009")
	ErrRateLimitIP             = errors.New("0010")
	ErrRateLimitUser           = errors.New("0011")
	ErrDuplicateAdmission      = errors.New("0012")
	ErrInvalidQuantity         = errors.New("0013")
	ErrMissingFieldsInRequest  = errors.New("0014")
	ErrCommitNotFound          = errors.New("0015")
	ErrCommitAlreadyReversed   = errors.New("0016")
	ErrMessageAlreadyDead      = errors.New("0017")
	ErrOutboxMessageNotFound   = errors.New("0018")
	ErrStockVersionConflict    = errors.New("0019")
	ErrInvalidStatusTransition = errors.New("0020")
	ErrBadRequest              = errors.New("0021")
	ErrUnexpectedFields        = errors.New("0022")
	ErrInternalServer          = errors.New("0023")
	ErrEntityNotFound          = errors.New("0024")
	ErrCircuitOpen             = errors.New("0025")
	ErrScriptNotRegistered     = errors.New("0026")
)
