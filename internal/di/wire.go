//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/sandeepkv93/identity-core/internal/app"
	"github.com/sandeepkv93/identity-core/internal/config"
	"github.com/sandeepkv93/identity-core/internal/observability"
	"github.com/sandeepkv93/identity-core/internal/service"
)

func InitializeApp(cfg *config.Config, runtime *observability.Runtime) (*app.App, func(), error) {
	wire.Build(StorageSet, SessionSet, ServiceSet, HTTPSet)
	return nil, nil, nil
}

func InitializeSweeper(cfg *config.Config, runtime *observability.Runtime) (*service.Sweeper, func(), error) {
	wire.Build(StorageSet, SessionSet)
	return nil, nil, nil
}
