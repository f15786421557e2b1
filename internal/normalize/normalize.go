// Package normalize turns loosely shaped detector payloads into DetectionBatch values.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"zoneguard/internal/model"
)

var ErrNoFeed = errors.New("payload has no feed id")

// Defaults fill fields a payload leaves out. FeedID < 0 means the payload must carry one.
type Defaults struct {
	FeedID int
	Now    time.Time
	Loc    *time.Location
}

// DecodeBatches accepts a single JSON object or an array of them.
func DecodeBatches(data []byte, def Defaults) ([]model.DetectionBatch, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, errors.New("empty payload")
	}
	if trim[0] == '[' {
		var list []map[string]any
		if err := json.Unmarshal(trim, &list); err != nil {
			return nil, err
		}
		out := make([]model.DetectionBatch, 0, len(list))
		for i, obj := range list {
			b, err := DecodeMap(obj, def)
			if err != nil {
				return out, fmt.Errorf("item %d: %w", i, err)
			}
			out = append(out, b)
		}
		return out, nil
	}
	b, err := DecodeBatch(trim, def)
	if err != nil {
		return nil, err
	}
	return []model.DetectionBatch{b}, nil
}

func DecodeBatch(data []byte, def Defaults) (model.DetectionBatch, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return model.DetectionBatch{}, err
	}
	return DecodeMap(obj, def)
}

// DecodeMap reads feed_id/feed/camera_id, seq/frame_id, captured_at/timestamp/ts,
// frame or width+height, faces/detections, doors and persons/people.
func DecodeMap(obj map[string]any, def Defaults) (model.DetectionBatch, error) {
	obj = lowerKeys(obj)
	var b model.DetectionBatch

	feed, ok := intField(obj, "feed_id", "feed", "camera_id", "camera")
	switch {
	case ok:
		b.FeedID = feed
	case def.FeedID >= 0:
		b.FeedID = def.FeedID
	default:
		return b, ErrNoFeed
	}
	if b.FeedID < 0 {
		return b, fmt.Errorf("negative feed id %d", b.FeedID)
	}
	if seq, ok := intField(obj, "seq", "frame_id", "frame_seq"); ok && seq >= 0 {
		b.Seq = uint64(seq)
	}

	b.CapturedAt = def.Now
	if raw, ok := first(obj, "captured_at", "timestamp", "ts", "time"); ok {
		ts, err := timeValue(raw, def.Loc)
		if err != nil {
			return b, fmt.Errorf("parse timestamp: %w", err)
		}
		b.CapturedAt = ts
	}
	if b.CapturedAt.IsZero() {
		b.CapturedAt = time.Now().UTC()
	}

	if frame, ok := obj["frame"].(map[string]any); ok {
		frame = lowerKeys(frame)
		b.Frame.Width, _ = intField(frame, "width", "w")
		b.Frame.Height, _ = intField(frame, "height", "h")
	} else {
		b.Frame.Width, _ = intField(obj, "width", "frame_width")
		b.Frame.Height, _ = intField(obj, "height", "frame_height")
	}

	if raw, ok := first(obj, "faces", "detections"); ok {
		list, ok := raw.([]any)
		if !ok {
			return b, errors.New("faces must be a list")
		}
		for i, item := range list {
			d, err := detection(item)
			if err != nil {
				return b, fmt.Errorf("face %d: %w", i, err)
			}
			b.Faces = append(b.Faces, d)
		}
	}
	var err error
	if b.Doors, err = boxList(obj, "doors", "door_boxes"); err != nil {
		return b, fmt.Errorf("doors: %w", err)
	}
	if b.Persons, err = boxList(obj, "persons", "people", "bodies"); err != nil {
		return b, fmt.Errorf("persons: %w", err)
	}
	return b, nil
}

func detection(item any) (model.Detection, error) {
	obj, ok := item.(map[string]any)
	if !ok {
		return model.Detection{}, errors.New("not an object")
	}
	obj = lowerKeys(obj)
	raw, ok := first(obj, "bbox", "box", "rect")
	if !ok {
		return model.Detection{}, errors.New("missing bbox")
	}
	box, err := BBox(raw)
	if err != nil {
		return model.Detection{}, err
	}
	d := model.Detection{BBox: box}
	d.Name = stringField(obj, "name", "identity", "label", "person_name")
	if !model.IsKnownName(d.Name) {
		d.Name = model.UnknownName
	}
	d.Role = stringField(obj, "role", "person_role")
	d.IdentityID = stringField(obj, "identity_id", "person_id")
	d.TrackID = stringField(obj, "track_id")
	d.Score, _ = floatField(obj, "score", "confidence", "conf")
	if v, ok := obj["authorized"].(bool); ok {
		d.Authorized = v
	}
	return d, nil
}

func boxList(obj map[string]any, keys ...string) ([]model.BBox, error) {
	raw, ok := first(obj, keys...)
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, errors.New("must be a list")
	}
	out := make([]model.BBox, 0, len(list))
	for i, item := range list {
		if m, ok := item.(map[string]any); ok {
			if inner, ok := first(lowerKeys(m), "bbox", "box"); ok {
				item = inner
			}
		}
		box, err := BBox(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, box)
	}
	return out, nil
}

// BBox accepts [x1,y1,x2,y2], {x1,y1,x2,y2} or {x,y,w,h}. Reversed corners are swapped.
func BBox(raw any) (model.BBox, error) {
	var v [4]float64
	switch t := raw.(type) {
	case []any:
		if len(t) != 4 {
			return model.BBox{}, fmt.Errorf("bbox needs 4 numbers, got %d", len(t))
		}
		for i, item := range t {
			f, ok := toFloat(item)
			if !ok {
				return model.BBox{}, fmt.Errorf("bbox[%d] is not a number", i)
			}
			v[i] = f
		}
	case map[string]any:
		m := lowerKeys(t)
		if x1, ok := floatField(m, "x1"); ok {
			v[0] = x1
			v[1], _ = floatField(m, "y1")
			v[2], _ = floatField(m, "x2")
			v[3], _ = floatField(m, "y2")
		} else {
			x, _ := floatField(m, "x", "left")
			y, _ := floatField(m, "y", "top")
			w, okW := floatField(m, "w", "width")
			h, okH := floatField(m, "h", "height")
			if !okW || !okH {
				return model.BBox{}, errors.New("bbox object needs x1..y2 or x,y,w,h")
			}
			v = [4]float64{x, y, x + w, y + h}
		}
	default:
		return model.BBox{}, fmt.Errorf("unsupported bbox %T", raw)
	}
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return model.BBox{}, errors.New("bbox is not finite")
		}
	}
	if v[0] > v[2] {
		v[0], v[2] = v[2], v[0]
	}
	if v[1] > v[3] {
		v[1], v[3] = v[3], v[1]
	}
	return model.BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}

func timeValue(raw any, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	switch t := raw.(type) {
	case string:
		ts, err := ParseTimestamp(t, loc)
		return ts.UTC(), err
	case float64:
		return unixNumber(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, err
		}
		return unixNumber(f), nil
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %T", raw)
}

// unixNumber reads seconds, or milliseconds for values past year 33658.
func unixNumber(f float64) time.Time {
	if f >= 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func lowerKeys(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

func first(obj map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(obj map[string]any, keys ...string) string {
	v, ok := first(obj, keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func floatField(obj map[string]any, keys ...string) (float64, bool) {
	v, ok := first(obj, keys...)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func intField(obj map[string]any, keys ...string) (int, bool) {
	f, ok := floatField(obj, keys...)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
