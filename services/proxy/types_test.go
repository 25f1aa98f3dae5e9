// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proxy

import (
	"strings"
	"testing"
)

// TestChatRequest_Validate tests the inbound field constraints.
func TestChatRequest_Validate(t *testing.T) {
	t.Parallel()

	valid := func() *ChatRequest {
		return &ChatRequest{
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*ChatRequest)
		wantOK bool
	}{
		{"Minimal Valid", func(r *ChatRequest) {}, true},
		{"No Messages", func(r *ChatRequest) { r.Messages = nil }, false},
		{"Bad Role", func(r *ChatRequest) { r.Messages[0].Role = "robot" }, false},
		{"Bad Audience", func(r *ChatRequest) { r.Audience = "alien" }, false},
		{"Valid Audience", func(r *ChatRequest) { r.Audience = AudienceTeacher }, true},
		{"Oversized Content", func(r *ChatRequest) {
			r.Messages[0].Content = strings.Repeat("x", 65537)
		}, false},
		{"Temperature Too High", func(r *ChatRequest) {
			temp := float32(3.0)
			r.Temperature = &temp
		}, false},
		{"Negative MaxTokens", func(r *ChatRequest) {
			n := -1
			r.MaxTokens = &n
		}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := valid()
			tc.mutate(req)
			err := req.Validate()
			if tc.wantOK && err != nil {
				t.Errorf("Validate returned error: %v", err)
			}
			if !tc.wantOK && err == nil {
				t.Error("Validate returned nil, want an error")
			}
		})
	}
}

// TestAttachment_IsInlineImage tests the inline-image gate.
func TestAttachment_IsInlineImage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		att  Attachment
		want bool
	}{
		{"PNG With Data", Attachment{MimeType: "image/png", InlineData: "aGk="}, true},
		{"PNG Without Data", Attachment{MimeType: "image/png"}, false},
		{"PDF With Data", Attachment{MimeType: "application/pdf", InlineData: "aGk="}, false},
		{"WebP With Data", Attachment{MimeType: "image/webp", InlineData: "aGk="}, true},
		{"BMP With Data", Attachment{MimeType: "image/bmp", InlineData: "QUJD"}, true},
		{"TIFF Without Data", Attachment{MimeType: "image/tiff"}, false},
		{"Prefix Only In Subtype", Attachment{MimeType: "application/image", InlineData: "aGk="}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.att.IsInlineImage(); got != tc.want {
				t.Errorf("IsInlineImage = %v, want %v", got, tc.want)
			}
		})
	}
}
