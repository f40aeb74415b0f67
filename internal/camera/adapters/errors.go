package adapters

import "errors"

var ErrPipelineClosed = errors.New("camera: pipeline closed")
