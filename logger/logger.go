// Package logger provides a custom TextFormatter for use with the github.com/sirupsen/logrus library.
// Please refer to https://github.com/sirupsen/logrus#formatters for general usage guidelines on logrus formatters.
package logger

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultTimestampFormat = time.RFC3339

// TextFormatter maintains a list of options to apply while formatting your log output.
// For more information about the Timestamp format refer to https://golang.org/pkg/time/.
type TextFormatter struct {
	// Disable timestamp logging. useful when output is redirected to logging
	// system that already adds timestamps
	DisableTimestamp bool

	// Timestamp format to use for display when a full timestamp is printed
	TimestampFormat string

	// Wrap empty fields in quotes if true
	QuoteEmptyFields bool
}

// Format renders a single log entry.
// It is meant to be called from github.com/sirupsen/logrus.
func (f *TextFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer

	// if you aren't calling WithField(s), len(keys) will probably be 0
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// retrieve existing buffer if possible
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	timestampFormat := f.TimestampFormat
	if timestampFormat == "" {
		timestampFormat = defaultTimestampFormat
	}

	if !f.DisableTimestamp {
		b.WriteString(entry.Time.Format(timestampFormat))
		b.WriteByte(' ')
	}

	b.WriteByte('[')
	b.WriteString(strings.ToUpper(entry.Level.String()))
	b.WriteByte(']')
	b.WriteByte(' ')

	// even without a message, it will still log the other information
	if entry.Message != "" {
		b.WriteString(entry.Message)
		if len(keys) > 0 {
			b.WriteByte(' ')
		}
	}

	for i, key := range keys {
		b.WriteString(key)
		b.WriteByte('=')
		f.appendValue(b, entry.Data[key])
		if i != len(keys)-1 {
			b.WriteByte(' ')
		}
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (f *TextFormatter) needsQuoting(text string) bool {
	if f.QuoteEmptyFields && len(text) == 0 {
		return true
	}
	for _, ch := range text {
		if !((ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.') {
			return true
		}
	}
	return false
}

func (f *TextFormatter) appendValue(b *bytes.Buffer, value interface{}) {
	switch value := value.(type) {
	case string:
		if !f.needsQuoting(value) {
			b.WriteString(value)
		} else {
			fmt.Fprintf(b, "%q", value)
		}
	case error:
		errmsg := value.Error()
		if !f.needsQuoting(errmsg) {
			b.WriteString(errmsg)
		} else {
			fmt.Fprintf(b, "%q", errmsg)
		}
	default:
		fmt.Fprint(b, value)
	}
}
