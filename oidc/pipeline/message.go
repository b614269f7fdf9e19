// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/oidc-credentials/oidc"
)

// AuthorizationHeader is the header Attach sets.
const AuthorizationHeader = "Authorization"

// Message is an event flowing through a request pipeline on its way to an
// outgoing request. Fields carries arbitrary values set by other stages and
// is never inspected here.
type Message struct {
	Headers     http.Header
	Payload     interface{}
	AccessToken oidc.AccessToken
	// Error marks a message whose credentials could not be made valid.
	Error  error
	Fields map[string]interface{}
}

// Clone returns a copy of the message. Headers and Fields are copied one
// level deep.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Headers != nil {
		cp.Headers = m.Headers.Clone()
	}
	if m.Fields != nil {
		cp.Fields = make(map[string]interface{}, len(m.Fields))
		for k, v := range m.Fields {
			cp.Fields[k] = v
		}
	}
	return &cp
}

// Attach returns a copy of the message carrying the access token as a bearer
// Authorization header. Other headers and fields are preserved, an existing
// Authorization header is replaced and any error from a previous attempt is
// cleared. The input message is not modified.
func Attach(msg *Message, token oidc.AccessToken) *Message {
	out := msg.Clone()
	if out == nil {
		out = &Message{}
	}
	if out.Headers == nil {
		out.Headers = http.Header{}
	}
	out.Headers.Set(AuthorizationHeader, fmt.Sprintf("Bearer %s", string(token)))
	out.AccessToken = token
	out.Error = nil
	return out
}

// MarkFailed returns a copy of the message carrying err as both its error and
// its payload, with no access token and no Authorization header.
func MarkFailed(msg *Message, err error) *Message {
	out := msg.Clone()
	if out == nil {
		out = &Message{}
	}
	out.Error = err
	out.Payload = err
	out.AccessToken = ""
	if out.Headers != nil {
		out.Headers.Del(AuthorizationHeader)
	}
	return out
}
