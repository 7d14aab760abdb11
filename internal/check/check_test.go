package check

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	swarmhttp "github.com/wesleyorama2/swarm/internal/http"
	"github.com/wesleyorama2/swarm/internal/session"
	"github.com/wesleyorama2/swarm/internal/template"
)

const categoriesBody = `[
  {"id": 6, "name": "For Her"},
  {"id": 7, "name": "For Him"},
  {"id": 8, "name": "Unisex"}
]`

func jsonResponse(status int, body string) *swarmhttp.Response {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return &swarmhttp.Response{StatusCode: status, Headers: h, Body: []byte(body)}
}

func TestCheck_Evaluate(t *testing.T) {
	tests := []struct {
		name    string
		check   Check
		resp    *swarmhttp.Response
		wantErr bool
	}{
		{"status is", Status().Is(session.Int(200)), jsonResponse(200, "{}"), false},
		{"status is mismatch", Status().Is(session.Int(200)), jsonResponse(404, "{}"), true},
		{"status in", Status().In(session.Int(200), session.Int(404)), jsonResponse(404, "{}"), false},
		{"default status", DefaultStatus(), jsonResponse(302, ""), false},
		{"default status 500", DefaultStatus(), jsonResponse(500, ""), true},
		{"jmespath filter list", JMESPath("[? id == `6`].name").OfList().Is(session.Strings("For Her")), jsonResponse(200, categoriesBody), false},
		{"jmespath empty list", JMESPath("[? id == `99`].name").OfList().Is(session.List()), jsonResponse(200, categoriesBody), false},
		{"jmespath missing", JMESPath("token"), jsonResponse(200, `{"other":1}`), true},
		{"jmespath not json", JMESPath("token"), jsonResponse(200, `<html>`), true},
		{"jmespath ofInt", JMESPath("[0].id").OfInt().Is(session.Int(6)), jsonResponse(200, categoriesBody), false},
		{"jmespath ofMap wrong kind", JMESPath("[0].id").OfMap(), jsonResponse(200, categoriesBody), true},
		{"jmespath invalid expr", JMESPath("[?"), jsonResponse(200, categoriesBody), true},
		{"jsonpath", JSONPath("$[1].name").Is(session.String("For Him")), jsonResponse(200, categoriesBody), false},
		{"jsonpath missing", JSONPath("$.nope"), jsonResponse(200, `{}`), true},
		{"header", Header("content-type").Is(session.String("application/json")), jsonResponse(200, ""), false},
		{"header not exists", Header("X-Nope").NotExists(), jsonResponse(200, ""), false},
		{"regex", Regex(`"token":"(\w+)"`).Is(session.String("abc")), jsonResponse(200, `{"token":"abc"}`), false},
		{"regex invalid", Regex(`(`), jsonResponse(200, ""), true},
		{"body string", BodyString().Is(session.String("ok")), jsonResponse(200, "ok"), false},
		{"ofInt from string", BodyString().OfInt().Is(session.Int(42)), jsonResponse(200, "42"), false},
		{"in range", Status().InRange(400, 499), jsonResponse(404, ""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.check.Evaluate(tt.resp, session.New(1, "t"))
			if (err != nil) != tt.wantErr {
				t.Errorf("Evaluate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrCheckFailed) {
				t.Errorf("Evaluate() error = %v, want ErrCheckFailed", err)
			}
		})
	}
}

func TestCheck_SaveAsOnlyOnSuccess(t *testing.T) {
	s := session.New(1, "t")

	ok := JMESPath("token").SaveAs("jwt")
	next, err := ok.Evaluate(jsonResponse(200, `{"token":"abc"}`), s)
	require.NoError(t, err)
	jwt, err := next.String("jwt")
	require.NoError(t, err)
	assert.Equal(t, "abc", jwt)
	assert.False(t, s.Contains("jwt"), "original session must not change")

	failing := JMESPath("token").Is(session.String("other")).SaveAs("jwt")
	next, err = failing.Evaluate(jsonResponse(200, `{"token":"abc"}`), s)
	require.Error(t, err)
	assert.False(t, next.Contains("jwt"))
}

func TestCheck_SaveAsKeepsStructure(t *testing.T) {
	s := session.New(1, "t")

	ids, err := JMESPath("[*].id").OfList().SaveAs("allProductIds").Evaluate(jsonResponse(200, categoriesBody), s)
	require.NoError(t, err)
	list, err := ids.List("allProductIds")
	require.NoError(t, err)
	assert.Len(t, list, 3)

	prod, err := JMESPath("@").OfMap().SaveAs("product").Evaluate(jsonResponse(200, `{"id":17,"name":"Hat","price":9.5}`), s)
	require.NoError(t, err)
	m, err := prod.Map("product")
	require.NoError(t, err)
	assert.Equal(t, "Hat", m["name"].String())
}

func TestCheck_IsTemplate(t *testing.T) {
	s := session.New(1, "t").Set("productId", session.Int(17)).Set("productName", session.String("17"))

	_, err := JMESPath("id").OfInt().IsTemplate("#{productId}").Evaluate(jsonResponse(200, `{"id":17}`), s)
	assert.NoError(t, err)

	// string on one side compares by text
	_, err = JMESPath("id").OfInt().IsTemplate("#{productName}").Evaluate(jsonResponse(200, `{"id":17}`), s)
	assert.NoError(t, err)

	_, err = JMESPath("id").OfInt().IsTemplate("#{productId}").Evaluate(jsonResponse(200, `{"id":18}`), s)
	assert.Error(t, err)

	_, err = JMESPath("id").IsTemplate("#{missing}").Evaluate(jsonResponse(200, `{"id":17}`), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "#{missing}")
	assert.False(t, errors.Is(err, template.ErrUnresolvedVariable))

	bad := JMESPath("id").IsTemplate("#{")
	assert.Error(t, bad.Err())
}

func TestCheck_FatalFlag(t *testing.T) {
	c := Status().Is(session.Int(200)).Fatal()
	assert.True(t, c.IsFatal())

	_, err := c.Evaluate(jsonResponse(500, ""), session.New(1, "t"))
	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.Fatal)
}

func TestCheck_String(t *testing.T) {
	assert.Equal(t, "jmesPath(token).exists.saveAs(jwt)", JMESPath("token").SaveAs("jwt").String())
	assert.Equal(t, "status.is(200)", Status().Is(session.Int(200)).String())
	assert.Equal(t, "custom", Status().Named("custom").String())
}

func TestHasStatusCheck(t *testing.T) {
	assert.False(t, HasStatusCheck([]Check{JMESPath("a")}))
	assert.True(t, HasStatusCheck([]Check{JMESPath("a"), Status().Is(session.Int(404))}))
}

func TestJSONSchema(t *testing.T) {
	schema := `{
		"type": "object",
		"required": ["id", "name"],
		"properties": {
			"id": {"type": "integer"},
			"name": {"type": "string"}
		}
	}`

	s := session.New(1, "t")
	next, err := JSONSchema(schema).SaveAs("doc").Evaluate(jsonResponse(200, `{"id":1,"name":"x"}`), s)
	require.NoError(t, err)
	assert.True(t, next.Contains("doc"))

	_, err = JSONSchema(schema).Evaluate(jsonResponse(200, `{"id":"1"}`), s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCheckFailed))

	_, err = JSONSchema(schema).Evaluate(jsonResponse(200, `{"id":`), s)
	assert.Error(t, err)

	assert.Error(t, JSONSchema(`{"type": 12}`).Err())
}

func TestToGJSONPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"$", "@this"},
		{"$.users[0].name", "users.0.name"},
		{"$[2]", "2"},
		{"$['name']", "name"},
		{"token", "token"},
	}
	for _, tt := range tests {
		if got := toGJSONPath(tt.in); got != tt.want {
			t.Errorf("toGJSONPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
