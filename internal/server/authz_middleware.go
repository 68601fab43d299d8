package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jacksonlee411/schema-fields/internal/routing"
	"github.com/jacksonlee411/schema-fields/pkg/authz"
)

func loadAuthorizer() (*authz.Authorizer, error) {
	modelPath := os.Getenv("AUTHZ_MODEL_PATH")
	if modelPath == "" {
		p, err := findConfigFile("config/access/model.conf")
		if err != nil {
			return nil, err
		}
		modelPath = p
	}

	policyPath := os.Getenv("AUTHZ_POLICY_PATH")
	if policyPath == "" {
		p, err := findConfigFile("config/access/policy.csv")
		if err != nil {
			return nil, err
		}
		policyPath = p
	}

	mode, err := authz.ModeFromEnv()
	if err != nil {
		return nil, err
	}

	return authz.NewAuthorizer(modelPath, policyPath, mode)
}

// findConfigFile looks for a repo-relative config file from the working
// directory upwards.
func findConfigFile(path string) (string, error) {
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: " + filepath.Base(path) + " not found")
}

// withPrincipal attaches the caller resolved from a bearer token. Requests
// without credentials continue as anonymous; unknown tokens are rejected.
func withPrincipal(classifier *routing.Classifier, tokens TokenTable, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		rc := routing.RouteClassInternalAPI
		if classifier != nil {
			rc = classifier.Classify(r.URL.Path)
		}
		if rc == routing.RouteClassOps {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(header)
		if !ok {
			routing.WriteError(w, r, rc, http.StatusUnauthorized, "invalid_token", "invalid authorization header")
			return
		}
		p, ok := tokens.Lookup(token)
		if !ok {
			routing.WriteError(w, r, rc, http.StatusUnauthorized, "invalid_token", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(authz.WithPrincipal(r.Context(), p)))
	})
}
