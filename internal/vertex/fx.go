package vertex

import (
	"github.com/smallbiznis/vertextax/internal/vertex/client"
	vertexdomain "github.com/smallbiznis/vertextax/internal/vertex/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("vertex.client",
	fx.Provide(
		client.NewTokenCache,
		fx.Annotate(client.New, fx.As(new(vertexdomain.Client))),
	),
)
