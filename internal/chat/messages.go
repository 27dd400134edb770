package chat

import (
	"github.com/samber/lo"
)

// Callback actions carried by reply buttons.
const (
	ActionCheckUnderstanding = "check_understanding"
	ActionNewText            = "new_text"
)

// DefaultChunkSize is the longest message most chat transports accept.
const DefaultChunkSize = 4096

// User-facing texts.
const (
	MsgGreeting = "Hi! Let's start over. Send me a text or a document (.txt, .pdf, .docx, .md, .html) " +
		"and I will retell it in detail, chapter by chapter."
	MsgWhatNext          = "What next?"
	MsgNoSummary         = "No saved text to check."
	MsgNoQuestions       = "Could not generate questions."
	MsgBusy              = "Still working on your previous request, please wait."
	MsgUnsupportedFormat = "Unsupported file format. Please send a .txt, .pdf, .docx, .md or .html file."
	MsgFileError         = "An error occurred while processing the file. Please try again."
	MsgFileTooLarge      = "The file is too large."
	MsgEmptyDocument     = "The document contains no text."
	MsgEmptyText         = "Please send some text to retell."
	MsgUnknownAction     = "Unknown action."
	MsgSummaryFailed     = "The language model could not retell this text. Please try again later."
	MsgInternalError     = "Something went wrong. Please try again."
)

// Button is an inline choice attached to a reply.
type Button struct {
	Label  string `json:"label"`
	Action string `json:"action"`
}

// Reply is one outbound message.
type Reply struct {
	Text    string   `json:"text"`
	Buttons []Button `json:"buttons,omitempty"`
}

var nextStepButtons = []Button{
	{Label: "Check understanding", Action: ActionCheckUnderstanding},
	{Label: "New text", Action: ActionNewText},
}

// SplitMessage cuts text into pieces of at most size characters. Joining
// the pieces gives back text. Empty text yields no pieces.
func SplitMessage(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	return lo.ChunkString(text, size)
}

func (s *Service) say(texts ...string) []Reply {
	var out []Reply
	for _, t := range texts {
		for _, piece := range SplitMessage(t, s.cfg.ChunkSize) {
			out = append(out, Reply{Text: piece})
		}
	}
	return out
}
