package routes_test

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/cpbr-dev/Clog-Bot/routes"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swaggo/swag"
)

type swaggerDoc struct {
	Paths map[string]map[string]struct {
		Summary    string `json:"summary"`
		Parameters []struct {
			In   string `json:"in"`
			Name string `json:"name"`
		} `json:"parameters"`
	} `json:"paths"`
	Definitions map[string]json.RawMessage `json:"definitions"`
}

func readDoc(t *testing.T) swaggerDoc {
	t.Helper()
	raw, err := swag.ReadDoc()
	require.NoError(t, err)

	var doc swaggerDoc
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	return doc
}

// apiRoutes возвращает "METHOD /path" для всех маршрутов API.
func apiRoutes(t *testing.T) []string {
	t.Helper()
	router := chi.NewRouter()
	routes.SetupRoutes(router, routes.Handlers{}, routes.Options{JWTSecret: "secret"})

	var out []string
	err := chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if route == "/health" || route == "/metrics" || strings.HasPrefix(route, "/swagger/") {
			return nil
		}
		if len(route) > 1 {
			route = strings.TrimSuffix(route, "/")
		}
		out = append(out, method+" "+route)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)
	return out
}

func TestSwaggerDoc_MatchesRouter(t *testing.T) {
	doc := readDoc(t)

	var documented []string
	for path, ops := range doc.Paths {
		for method := range ops {
			documented = append(documented, strings.ToUpper(method)+" "+path)
		}
	}
	sort.Strings(documented)

	assert.Equal(t, apiRoutes(t), documented)
}

func TestSwaggerDoc_EveryOperationHasSummary(t *testing.T) {
	doc := readDoc(t)

	for path, ops := range doc.Paths {
		for method, op := range ops {
			assert.NotEmpty(t, op.Summary, "%s %s", method, path)
		}
	}
}

func TestSwaggerDoc_RequestBodiesAreDescribed(t *testing.T) {
	doc := readDoc(t)

	withBody := map[string]string{
		"POST /accounts":                 "services.LinkAccountInput",
		"PATCH /accounts/{name}":         "services.EditAccountInput",
		"POST /auth/token":               "services.LoginInput",
		"PUT /owners/{ownerID}/override": "handlers.overrideInput",
		"PUT /settings/channel":          "handlers.channelInput",
		"PUT /settings/message":          "handlers.messageInput",
	}
	for key, definition := range withBody {
		method, path, _ := strings.Cut(key, " ")
		op, ok := doc.Paths[path][strings.ToLower(method)]
		require.True(t, ok, key)

		var hasBody bool
		for _, p := range op.Parameters {
			if p.In == "body" {
				hasBody = true
			}
		}
		assert.True(t, hasBody, "%s has no body parameter", key)
		assert.Contains(t, doc.Definitions, definition)
	}
}
