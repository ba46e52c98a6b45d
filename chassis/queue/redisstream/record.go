package redisstream

import (
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Record - one stream entry with its decoded payload
type Record struct {
	id       string
	stream   string
	group    string
	consumer string
	payload  interface{}
	raw      []byte
}

func newRecord(stream, group, consumer string, entry redis.XMessage) (*Record, error) {
	var raw []byte
	switch v := entry.Values[PayloadField].(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case nil:
		return nil, fmt.Errorf("entry %s has no %q field", entry.ID, PayloadField)
	default:
		return nil, fmt.Errorf("entry %s has payload of type %T", entry.ID, v)
	}
	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("entry %s: decode payload: %w", entry.ID, err)
	}
	return &Record{
		id:       entry.ID,
		stream:   stream,
		group:    group,
		consumer: consumer,
		payload:  payload,
		raw:      raw,
	}, nil
}

// ID - backend assigned entry id
func (r *Record) ID() string { return r.id }

// Body - decoded JSON payload
func (r *Record) Body() interface{} { return r.payload }

// Raw ...
func (r *Record) Raw() []byte { return r.raw }

// Decode unmarshals the payload into v.
func (r *Record) Decode(v interface{}) error {
	return json.Unmarshal(r.raw, v)
}

// Properties ...
func (r *Record) Properties() map[string]interface{} {
	return map[string]interface{}{
		"stream":   r.stream,
		"group":    r.group,
		"consumer": r.consumer,
	}
}
