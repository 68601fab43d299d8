package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/jacksonlee411/schema-fields/internal/routing"
	"github.com/jacksonlee411/schema-fields/modules/schema/domain/ports"
	"github.com/jacksonlee411/schema-fields/modules/schema/presentation/controllers"
	"github.com/jacksonlee411/schema-fields/modules/schema/services"
)

const entrypoint = "server"

func NewHandler() (http.Handler, error) {
	return NewHandlerWithOptions(HandlerOptions{Config: ConfigFromEnv()})
}

// HandlerOptions overrides the collaborators NewHandlerWithOptions would
// otherwise build from Config.
type HandlerOptions struct {
	Config Config
	Log    logr.Logger

	SchemaService ports.SchemaService
	Store         ports.FieldStore
	Authorizer    ports.Authorizer
	Events        ports.EventPublisher
	Tokens        *TokenTable
}

func NewHandlerWithOptions(opts HandlerOptions) (http.Handler, error) {
	ctx := context.Background()
	cfg := opts.Config
	log := opts.Log

	allowlistPath := cfg.AllowlistPath
	if allowlistPath == "" {
		p, err := findConfigFile("config/routing/allowlist.yaml")
		if err != nil {
			return nil, err
		}
		allowlistPath = p
	}
	a, err := routing.LoadAllowlist(allowlistPath)
	if err != nil {
		return nil, err
	}
	classifier, err := routing.NewClassifier(a, entrypoint)
	if err != nil {
		return nil, err
	}

	tokens := TokenTable{}
	if opts.Tokens != nil {
		tokens = *opts.Tokens
	} else if cfg.TokensPath != "" {
		t, err := LoadTokens(cfg.TokensPath)
		if err != nil {
			return nil, err
		}
		tokens = t
	}

	svc := opts.SchemaService
	if svc == nil {
		store := opts.Store
		if store == nil {
			s, err := openFieldStore(ctx, cfg, log)
			if err != nil {
				return nil, err
			}
			store = s
		}

		authorizer := opts.Authorizer
		if authorizer == nil {
			az, err := loadAuthorizer()
			if err != nil {
				return nil, err
			}
			authorizer = az
		}

		pub := opts.Events
		if pub == nil {
			p, err := openEventPublisher(ctx, cfg, log)
			if err != nil {
				return nil, err
			}
			pub = p
		}

		s, err := services.NewSchemaService(services.Options{
			Store:        store,
			Authorizer:   authorizer,
			Events:       pub,
			SystemPrefix: cfg.SystemPrefix,
			Log:          log,
		})
		if err != nil {
			return nil, err
		}
		svc = s
	}

	router := routing.NewRouter(classifier)
	router.OnPanic = func(r *http.Request, rec any, stack []byte) {
		log.Error(nil, "panic serving request", "method", r.Method, "path", r.URL.Path, "panic", rec, "stack", string(stack))
	}

	router.Handle(routing.RouteClassOps, http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))
	router.Handle(routing.RouteClassOps, http.MethodGet, "/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))

	fields := controllers.FieldsController{Service: svc, Log: log.WithName("fields")}
	for _, rt := range fields.Routes(cfg.BasePath) {
		if !a.Allows(entrypoint, rt.Method, rt.Path) {
			return nil, errors.New("server: route not in allowlist: " + rt.Method + " " + rt.Path)
		}
	}
	fields.RegisterRoutes(router, cfg.BasePath)

	return withPrincipal(classifier, tokens, router), nil
}

func MustNewHandler() http.Handler {
	h, err := NewHandler()
	if err != nil {
		panic(errors.New("server: failed to build handler: " + err.Error()))
	}
	return h
}
