package sendingdomain

import (
	"github.com/smallbiznis/sendora/internal/sendingdomain/repository"
	"github.com/smallbiznis/sendora/internal/sendingdomain/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sendingdomain.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
