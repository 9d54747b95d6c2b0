package result

import (
	"encoding/json"
	"fmt"
	"io"
)

// frameState is the position of a frameWriter within the response document.
type frameState int

const (
	stateBeforeFirstProperty frameState = iota
	stateInProperty
	stateBetweenProperties
	stateAfterLastProperty
)

func (s frameState) String() string {
	switch s {
	case stateBeforeFirstProperty:
		return "BeforeFirstProperty"
	case stateInProperty:
		return "InProperty"
	case stateBetweenProperties:
		return "BetweenProperties"
	case stateAfterLastProperty:
		return "AfterLastProperty"
	}
	return fmt.Sprintf("frameState(%d)", int(s))
}

// frameWriter emits a streamed result as one JSON object:
//
//	{"first":[a,b],"second":[c],"meta":{...}}
//
// Each array property is opened, filled item by item and closed; the meta
// property is written exactly once, by finish, together with the closing brace.
type frameWriter struct {
	w         io.Writer
	state     frameState
	itemCount int
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{w: w, state: stateBeforeFirstProperty}
}

func (f *frameWriter) invalid(op string) error {
	return fmt.Errorf("%s - %s not allowed in state %s", logPrefix, op, f.state)
}

// beginProperty opens the array property name.
func (f *frameWriter) beginProperty(name string) error {
	key, err := json.Marshal(name)
	if err != nil {
		return err
	}
	var prefix string
	switch f.state {
	case stateBeforeFirstProperty:
		prefix = "{"
	case stateBetweenProperties:
		prefix = ","
	default:
		return f.invalid("beginProperty")
	}
	if _, err := io.WriteString(f.w, prefix+string(key)+":["); err != nil {
		return err
	}
	f.state = stateInProperty
	f.itemCount = 0
	return nil
}

// writeItem appends one JSON-encoded item to the open array.
func (f *frameWriter) writeItem(item []byte) error {
	if f.state != stateInProperty {
		return f.invalid("writeItem")
	}
	if f.itemCount > 0 {
		if _, err := io.WriteString(f.w, ","); err != nil {
			return err
		}
	}
	if _, err := f.w.Write(item); err != nil {
		return err
	}
	f.itemCount++
	return nil
}

// endProperty closes the open array.
func (f *frameWriter) endProperty() error {
	if f.state != stateInProperty {
		return f.invalid("endProperty")
	}
	if _, err := io.WriteString(f.w, "]"); err != nil {
		return err
	}
	f.state = stateBetweenProperties
	return nil
}

// finish writes the meta property and closes the document.
func (f *frameWriter) finish(meta []byte) error {
	var prefix string
	switch f.state {
	case stateBeforeFirstProperty:
		prefix = "{"
	case stateBetweenProperties:
		prefix = ","
	default:
		return f.invalid("finish")
	}
	if _, err := io.WriteString(f.w, prefix+`"meta":`); err != nil {
		return err
	}
	if _, err := f.w.Write(meta); err != nil {
		return err
	}
	if _, err := io.WriteString(f.w, "}"); err != nil {
		return err
	}
	f.state = stateAfterLastProperty
	return nil
}
