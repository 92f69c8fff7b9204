package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/middleware"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/questions"
)

func ask(title string) map[string]string {
	return map[string]string{
		"title":   title,
		"content": "I am building a landing page and the layout breaks on mobile. " + title,
	}
}

func TestCreateQuestion_CountsUsage(t *testing.T) {
	env := newTestEnv(t)
	env.seed("u1", "u1@example.com", entitlements.TierFree, 4)
	token := devToken("u1", "u1@example.com")

	w := env.do(t, "POST", "/api/questions", token, ask("How do I center a div with flexbox?"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "free", body["userTier"])
	assert.EqualValues(t, 5, body["questionsUsed"])
	assert.EqualValues(t, 30, body["questionsLimit"])
	assert.EqualValues(t, 25, body["remainingQuestions"])

	question := body["question"].(map[string]interface{})
	assert.Equal(t, "how-do-i-center-a-div-with-flexbox", question["slug"])
	assert.NotEmpty(t, body["answer"])

	assert.Equal(t, 5, env.used(t, "u1"))
}

func TestCreateQuestion_DeniedAtLimit(t *testing.T) {
	env := newTestEnv(t)
	env.seed("u1", "u1@example.com", entitlements.TierFree, 30)

	w := env.do(t, "POST", "/api/questions", devToken("u1", "u1@example.com"), ask("Why is my build failing?"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["upgradeRequired"])
	assert.Equal(t, middleware.QuotaExceededMessage, body["message"])
	assert.EqualValues(t, 30, body["questionsUsed"])
	assert.EqualValues(t, 30, body["questionsLimit"])
	assert.Equal(t, "2026-04-01T00:00:00.000Z", body["resetDate"])

	assert.Equal(t, 30, env.used(t, "u1"))
	questions, err := env.questions.List(context.Background(), questions.ListFilter{Limit: 100})
	require.NoError(t, err)
	assert.Empty(t, questions)
}

func TestCreateQuestion_RepeatIsNotCharged(t *testing.T) {
	env := newTestEnv(t)
	env.seed("u1", "u1@example.com", entitlements.TierFree, 0)
	token := devToken("u1", "u1@example.com")
	q := ask("What is a closure in JavaScript?")

	first := env.do(t, "POST", "/api/questions", token, q)
	require.Equal(t, http.StatusCreated, first.Code)

	second := env.do(t, "POST", "/api/questions", token, q)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, `{"question":{"slug":"what-is-a-closure-in-javascript"},"isExisting":true}`, second.Body.String())

	assert.Equal(t, 1, env.used(t, "u1"))
}

func TestCreateQuestion_SameTitleOtherUserGetsNewSlug(t *testing.T) {
	env := newTestEnv(t)
	env.seed("u1", "u1@example.com", entitlements.TierFree, 0)
	env.seed("u2", "u2@example.com", entitlements.TierFree, 0)
	q := ask("Deploying to Vercel")

	require.Equal(t, http.StatusCreated, env.do(t, "POST", "/api/questions", devToken("u1", "u1@example.com"), q).Code)
	w := env.do(t, "POST", "/api/questions", devToken("u2", "u2@example.com"), q)
	require.Equal(t, http.StatusCreated, w.Code)

	slug := decode(t, w)["question"].(map[string]interface{})["slug"].(string)
	assert.NotEqual(t, "deploying-to-vercel", slug)
	assert.Contains(t, slug, "deploying-to-vercel-")
	assert.Equal(t, 1, env.used(t, "u2"))
}

func TestCreateQuestion_UnlimitedTiersAreNotCounted(t *testing.T) {
	env := newTestEnv(t)
	env.seed("pro", "pro@example.com", entitlements.TierPro, 0)
	env.seed("admin", adminEmail, entitlements.TierFree, 30)

	w := env.do(t, "POST", "/api/questions", devToken("pro", "pro@example.com"), ask("Pro question"))
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Nil(t, body["remainingQuestions"])
	assert.EqualValues(t, -1, body["questionsLimit"])
	assert.Equal(t, 0, env.used(t, "pro"))

	w = env.do(t, "POST", "/api/questions", devToken("admin", adminEmail), ask("Admin question"))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 30, env.used(t, "admin"))
}

func TestCreateQuestion_Rejections(t *testing.T) {
	env := newTestEnv(t)
	env.seed("u1", "u1@example.com", entitlements.TierFree, 2)
	token := devToken("u1", "u1@example.com")

	tests := []struct {
		name  string
		token string
		body  interface{}
		want  int
	}{
		{"missing title", token, map[string]string{"content": "body"}, http.StatusBadRequest},
		{"blank content", token, map[string]string{"title": "t", "content": "   "}, http.StatusBadRequest},
		{"no body", token, nil, http.StatusBadRequest},
		{"title without letters", token, map[string]string{"title": "???", "content": "x"}, http.StatusBadRequest},
		{"not provisioned", devToken("ghost", "ghost@example.com"), ask("Hello"), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/questions", tt.token, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
	assert.Equal(t, 2, env.used(t, "u1"))
}

func TestListAndGetQuestions(t *testing.T) {
	env := newTestEnv(t)
	env.seed("u1", "u1@example.com", entitlements.TierFree, 0)
	env.seed("u2", "u2@example.com", entitlements.TierFree, 0)
	for i := 0; i < 3; i++ {
		w := env.do(t, "POST", "/api/questions", devToken("u1", "u1@example.com"), ask(fmt.Sprintf("React hooks question %d", i)))
		require.Equal(t, http.StatusCreated, w.Code)
	}
	require.Equal(t, http.StatusCreated,
		env.do(t, "POST", "/api/questions", devToken("u2", "u2@example.com"), ask("Python virtualenv setup")).Code)

	t.Run("public list", func(t *testing.T) {
		body := decode(t, env.do(t, "GET", "/api/questions?limit=2", "", nil))
		assert.Len(t, body["questions"], 2)
	})

	t.Run("own questions", func(t *testing.T) {
		body := decode(t, env.do(t, "GET", "/api/questions?user_only=true&category=all", devToken("u2", "u2@example.com"), nil))
		assert.Len(t, body["questions"], 1)
	})

	t.Run("own questions anonymously", func(t *testing.T) {
		w := env.do(t, "GET", "/api/questions?user_only=true", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"questions":[]}`, w.Body.String())
	})

	t.Run("bad limit", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, env.do(t, "GET", "/api/questions?limit=ten", "", nil).Code)
	})

	t.Run("by slug counts views", func(t *testing.T) {
		w := env.do(t, "GET", "/api/questions/python-virtualenv-setup", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		q := decode(t, w)["question"].(map[string]interface{})
		assert.EqualValues(t, 1, q["view_count"])
		assert.NotNil(t, q["answer"])
	})

	t.Run("unknown slug", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/questions/missing", "", nil).Code)
	})
}

func TestSearchQuestions(t *testing.T) {
	env := newTestEnv(t)
	env.seed("u1", "u1@example.com", entitlements.TierFree, 0)
	require.Equal(t, http.StatusCreated,
		env.do(t, "POST", "/api/questions", devToken("u1", "u1@example.com"), ask("Tailwind dark mode toggle")).Code)

	body := decode(t, env.do(t, "POST", "/api/questions/search", "", map[string]interface{}{"q": "tailwind"}))
	similar := body["similar"].([]interface{})
	require.Len(t, similar, 1)
	hit := similar[0].(map[string]interface{})
	assert.Equal(t, "tailwind-dark-mode-toggle", hit["slug"])
	assert.EqualValues(t, 1, hit["similarity"])

	w := env.do(t, "POST", "/api/questions/search", "", map[string]interface{}{"q": "tw"})
	assert.JSONEq(t, `{"similar":[]}`, w.Body.String())
}

func TestPublicReadsAreRateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	env := newTestEnv(t, func(d *Dependencies) { d.Limiter = limiter })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, env.do(t, "GET", "/api/questions", "", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
