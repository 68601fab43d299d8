package server

import (
	"errors"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jacksonlee411/schema-fields/pkg/authz"
)

// TokenTable maps bearer tokens to principals.
type TokenTable struct {
	byToken map[string]authz.Principal
}

type tokensFile struct {
	Version int          `yaml:"version"`
	Tokens  []tokenEntry `yaml:"tokens"`
}

type tokenEntry struct {
	Token string `yaml:"token"`
	ID    string `yaml:"id"`
	Role  string `yaml:"role"`
}

func ParseTokensYAML(b []byte) (TokenTable, error) {
	var f tokensFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return TokenTable{}, err
	}
	if f.Version != 1 {
		return TokenTable{}, errors.New("tokens: unsupported version")
	}
	t := TokenTable{byToken: make(map[string]authz.Principal, len(f.Tokens))}
	for _, e := range f.Tokens {
		token := strings.TrimSpace(e.Token)
		role := strings.ToLower(strings.TrimSpace(e.Role))
		if token == "" || role == "" {
			return TokenTable{}, errors.New("tokens: token and role are required")
		}
		if _, dup := t.byToken[token]; dup {
			return TokenTable{}, errors.New("tokens: duplicate token")
		}
		id := strings.TrimSpace(e.ID)
		if id == "" {
			id = role
		}
		t.byToken[token] = authz.Principal{ID: id, RoleSlug: role}
	}
	return t, nil
}

func LoadTokens(path string) (TokenTable, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return TokenTable{}, err
	}
	return ParseTokensYAML(b)
}

func NewTokenTable(tokens map[string]authz.Principal) TokenTable {
	t := TokenTable{byToken: make(map[string]authz.Principal, len(tokens))}
	for k, v := range tokens {
		t.byToken[k] = v
	}
	return t
}

func (t TokenTable) Lookup(token string) (authz.Principal, bool) {
	p, ok := t.byToken[token]
	return p, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
