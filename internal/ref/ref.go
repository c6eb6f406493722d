// Package ref parses and formats chat conversation references.
//
// Google Chat names resources as spaces/{space}/threads/{thread} and
// spaces/{space}/messages/{message}, where a message id has the form
// {threadKey}.{messageKey}. Slack references use the same grammar under a
// channels/ root, with Slack timestamps as thread and message ids.
package ref

import "strings"

type Kind int

const (
	KindSpace   Kind = iota // Google Chat
	KindChannel             // Slack
)

const (
	spacesRoot   = "spaces"
	channelsRoot = "channels"
)

type Ref struct {
	Kind    Kind
	Space   string
	Thread  string
	Message string
}

// Parse reads a full or partial resource name. Bare ids are treated as space ids.
func Parse(raw string) Ref {
	return ParseIn(Ref{}, raw)
}

// ParseIn reads raw relative to base, so "threads/T" or a bare message id
// inherit the base's space and kind.
func ParseIn(base Ref, raw string) Ref {
	r := Ref{Kind: base.Kind, Space: base.Space}
	raw = strings.Trim(strings.TrimSpace(raw), "/")
	if raw == "" {
		return r
	}
	parts := strings.Split(raw, "/")
	i := 0
	switch parts[0] {
	case spacesRoot, channelsRoot:
		if len(parts) < 2 {
			return r
		}
		r.Kind = KindSpace
		if parts[0] == channelsRoot {
			r.Kind = KindChannel
		}
		r.Space = parts[1]
		i = 2
	case "threads", "messages":
	default:
		if len(parts) == 1 {
			if base.Space == "" {
				r.Space = parts[0]
			} else {
				r.Message = parts[0]
			}
			return r
		}
	}
	for ; i+1 < len(parts); i += 2 {
		switch parts[i] {
		case "threads":
			r.Thread = parts[i+1]
		case "messages":
			r.Message = parts[i+1]
		}
	}
	return r
}

func (r Ref) root() string {
	if r.Kind == KindChannel {
		return channelsRoot
	}
	return spacesRoot
}

func (r Ref) SpaceName() string {
	if r.Space == "" {
		return ""
	}
	return r.root() + "/" + r.Space
}

func (r Ref) ThreadName() string {
	if r.Space == "" || r.Thread == "" {
		return ""
	}
	return r.SpaceName() + "/threads/" + r.Thread
}

func (r Ref) MessageName() string {
	if r.Space == "" || r.Message == "" {
		return ""
	}
	return r.SpaceName() + "/messages/" + r.Message
}

// String returns the most specific name available.
func (r Ref) String() string {
	switch {
	case r.Message != "":
		return r.MessageName()
	case r.Thread != "":
		return r.ThreadName()
	default:
		return r.SpaceName()
	}
}

func (r Ref) HasThread() bool {
	return r.Space != "" && r.Thread != ""
}

// DerivedThread returns the thread a message belongs to when only the message
// id is known. Google Chat message ids carry the thread key before the dot;
// a Slack message's own timestamp is the thread_ts of its replies.
func (r Ref) DerivedThread() (string, bool) {
	if r.Thread != "" {
		return r.Thread, true
	}
	if r.Message == "" {
		return "", false
	}
	if r.Kind == KindChannel {
		return r.Message, true
	}
	key, _, found := strings.Cut(r.Message, ".")
	if !found || key == "" {
		return r.Message, true
	}
	return key, true
}

func (r Ref) WithThread(thread string) Ref {
	r.Thread = thread
	return r
}

func (r Ref) WithMessage(message string) Ref {
	r.Message = message
	return r
}

func Space(kind Kind, space string) Ref {
	return Ref{Kind: kind, Space: space}
}
