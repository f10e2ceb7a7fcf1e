package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// collection is the decoded store file. Subjects keep the order in which they
// first appeared, which encoding/json maps would lose.
type collection struct {
	subjects  []string
	bySubject map[string][]Record
}

func newCollection() *collection {
	return &collection{bySubject: make(map[string][]Record)}
}

func (c *collection) add(r Record) {
	if _, ok := c.bySubject[r.Subject]; !ok {
		c.subjects = append(c.subjects, r.Subject)
	}
	recs := append(c.bySubject[r.Subject], r)
	sortNewestFirst(recs)
	c.bySubject[r.Subject] = recs
}

func (c *collection) records(subject string) []Record {
	recs := c.bySubject[subject]
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = withSubject(r, subject)
	}
	return out
}

func sortNewestFirst(recs []Record) {
	slices.SortStableFunc(recs, func(a, b Record) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

func (c *collection) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, subject := range c.subjects {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(subject)
		if err != nil {
			return nil, err
		}
		recs, err := json.Marshal(c.bySubject[subject])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(recs)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (c *collection) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		subject, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected key %v", tok)
		}

		var recs []Record
		if err := dec.Decode(&recs); err != nil {
			return fmt.Errorf("subject %q: %w", subject, err)
		}
		if recs == nil {
			recs = []Record{}
		}
		if _, seen := c.bySubject[subject]; !seen {
			c.subjects = append(c.subjects, subject)
		}
		for i := range recs {
			recs[i].Subject = subject
			if recs[i].SourceIDs == nil {
				recs[i].SourceIDs = []string{}
			}
		}
		sortNewestFirst(recs)
		c.bySubject[subject] = recs
	}

	return expectDelim(dec, '}')
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
