package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandEnsureID(t *testing.T) {
	cmd := &Command{Method: MethodShow}
	cmd.EnsureID()
	assert.NotEmpty(t, cmd.ID)

	cmd = &Command{ID: "host-1", Method: MethodShow}
	cmd.EnsureID()
	assert.Equal(t, "host-1", cmd.ID)
}

func TestCommandDecode(t *testing.T) {
	raw := `{"id":"c1","method":"setConversationFields","args":{"fields":{"plan":"gold","region":"eu"}}}`

	var cmd Command
	require.NoError(t, json.Unmarshal([]byte(raw), &cmd))
	assert.Equal(t, MethodSetConversationFields, cmd.Method)

	fields, err := cmd.Args.StringMap("fields")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"plan": "gold", "region": "eu"}, fields)
}

func TestEventNullPayload(t *testing.T) {
	data, err := json.Marshal(NewEvent(EventLogoutSuccess, nil))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "event", decoded["type"])
	assert.Equal(t, "logout_success", decoded["event"])
	assert.Nil(t, decoded["payload"])
	assert.Contains(t, decoded, "payload")
}

func TestEventNullFields(t *testing.T) {
	ev := NewEvent(EventLoginSuccess, map[string]interface{}{"id": nil, "externalId": nil})
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"payload":{"externalId":null,"id":null}`)
}

func TestArgsString(t *testing.T) {
	args := Args{"jwt": "token", "n": 3}

	s, err := args.String("jwt")
	require.NoError(t, err)
	assert.Equal(t, "token", s)

	_, err = args.String("missing")
	assert.True(t, errors.Is(err, ErrInvalidArguments))

	_, err = args.String("n")
	assert.True(t, errors.Is(err, ErrInvalidArguments))

	var nilArgs Args
	_, err = nilArgs.String("jwt")
	assert.True(t, errors.Is(err, ErrInvalidArguments))
}

func TestArgsStrings(t *testing.T) {
	tags, err := Args{"tags": []interface{}{"vip", "beta"}}.Strings("tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"vip", "beta"}, tags)

	tags, err = Args{"tags": []string{"a"}}.Strings("tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, tags)

	tags, err = Args{"tags": []interface{}{}}.Strings("tags")
	require.NoError(t, err)
	assert.Empty(t, tags)

	_, err = Args{"tags": []interface{}{"a", 1}}.Strings("tags")
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = Args{"tags": "vip"}.Strings("tags")
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestArgsStringMap(t *testing.T) {
	_, err := Args{"fields": map[string]interface{}{"a": 1.0}}.StringMap("fields")
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = Args{}.StringMap("fields")
	assert.ErrorIs(t, err, ErrInvalidArguments)

	src := map[string]string{"k": "v"}
	got, err := Args{"fields": src}.StringMap("fields")
	require.NoError(t, err)
	got["k"] = "changed"
	assert.Equal(t, "v", src["k"])
}

func TestErrorResponse(t *testing.T) {
	resp := NewErrorResponse("c9", NewError(ErrCodeNotImplemented, "unknown method: foo"))
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"response","id":"c9","result":null,"error":{"code":"NOT_IMPLEMENTED","message":"unknown method: foo"}}`,
		string(data))
	assert.Equal(t, "NOT_IMPLEMENTED: unknown method: foo", resp.Error.Error())
}
