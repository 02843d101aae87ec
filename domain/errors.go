package domain

import "errors"

var (
	ErrNoPerformers  = errors.New("no performer could be resolved for task")
	ErrTemplateEmpty = errors.New("template has no tasks")
)
