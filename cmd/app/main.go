package main

import (
	"github.com/lunamall/seckill/internal/bootstrap"
	"github.com/lunamall/seckill/pkg"
)

func main() {
	pkg.InitLocalEnvConfig()
	bootstrap.InitServers().Run()
}
