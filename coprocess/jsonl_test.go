package coprocess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baldhumanity/neatlab/env"
	"github.com/baldhumanity/neatlab/neat"
)

// infiniteReplayEnv records replays JSON cannot represent.
type infiniteReplayEnv struct{ *env.XOR }

func (infiniteReplayEnv) Replay(*neat.Genome) *env.Replay {
	return &env.Replay{Environment: "xor", Score: math.Inf(1)}
}

// failingWriter accepts limit writes and then fails.
type failingWriter struct {
	limit int
	lines []string
}

func (w *failingWriter) Write(b []byte) (int, error) {
	if len(w.lines) == w.limit {
		return 0, errors.New("pipe closed")
	}
	w.lines = append(w.lines, string(b))
	return len(b), nil
}

func decodeLines(t *testing.T, out *bytes.Buffer) []Message {
	t.Helper()
	var messages []Message
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		var msg Message
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &msg), scanner.Text())
		messages = append(messages, msg)
	}
	require.NoError(t, scanner.Err())
	return messages
}

func TestServeJSONAnswersEveryLine(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"INIT","id":"1","payload":{"environment":"xor","config":{"populationSize":20,"seed":3}}}`,
		`{"type":"STEP","id":"2"}`,
		``,
		`this is not json`,
		`{"type":"REQUEST_GENOME","id":"3","payload":{"id":1}}`,
		`{"type":"STATE","id":"4"}`,
	}, "\n")

	var out bytes.Buffer
	err := ServeJSON(context.Background(), strings.NewReader(input), &out, Options{})
	require.NoError(t, err)

	byID := map[string]Message{}
	var invalid []Message
	for _, msg := range decodeLines(t, &out) {
		switch {
		case msg.Type == TypeProgress:
		case msg.RequestID == "":
			invalid = append(invalid, msg)
		default:
			byID[msg.RequestID] = msg
		}
	}

	require.Len(t, invalid, 1)
	assert.Equal(t, TypeError, invalid[0].Type)
	assert.Contains(t, invalid[0].Message, "invalid request")

	assert.Equal(t, TypeInited, byID["1"].Type)
	assert.Equal(t, TypeGenerationComplete, byID["2"].Type)
	assert.Equal(t, 0, byID["2"].Stats.Generation)

	details := byID["3"]
	require.Equal(t, TypeGenomeDetails, details.Type, details.Message)
	assert.Equal(t, 1, details.Genome.ID)
	assert.NoError(t, details.Genome.Validate())

	state := byID["4"]
	require.Equal(t, TypeState, state.Type)
	assert.Equal(t, 1, state.Snapshot.Generation)
	assert.Len(t, state.Snapshot.Population, 20)
}

func TestServeJSONStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := ServeJSON(ctx, strings.NewReader(`{"type":"STATE","id":"1"}`+"\n"), &out, Options{})
	assert.NoError(t, err)
}

func TestServeJSONKeepsServingAfterUnencodableReply(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"INIT","id":"1","payload":{"config":{"populationSize":20,"seed":3}}}`,
		`{"type":"REQUEST_GENOME","id":"2","payload":{"id":1}}`,
		`{"type":"STATE","id":"3"}`,
	}, "\n")

	var out bytes.Buffer
	err := ServeJSON(context.Background(), strings.NewReader(input), &out, Options{
		NewEnvironment: fixedEnv(infiniteReplayEnv{env.NewXOR()}),
	})
	require.NoError(t, err)

	messages := decodeLines(t, &out)
	require.Len(t, messages, 3)
	assert.Equal(t, TypeInited, messages[0].Type)

	assert.Equal(t, TypeError, messages[1].Type)
	assert.Equal(t, "2", messages[1].RequestID)
	assert.Contains(t, messages[1].Message, "encode GENOME_DETAILS")

	assert.Equal(t, TypeState, messages[2].Type)
	assert.Equal(t, "3", messages[2].RequestID)
}

func TestServeJSONReturnsWriterErrors(t *testing.T) {
	input := `{"type":"INIT","id":"1","payload":{"config":{"populationSize":20}}}` + "\n" +
		`{"type":"STATE","id":"2"}` + "\n"

	w := &failingWriter{limit: 1}
	err := ServeJSON(context.Background(), strings.NewReader(input), w, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipe closed")
	assert.Len(t, w.lines, 1)
}
