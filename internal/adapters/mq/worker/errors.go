package worker

import "errors"

// ErrMissingTopic is returned when the router has no source or poison topic.
var ErrMissingTopic = errors.New("worker: task and failed topics are required")
