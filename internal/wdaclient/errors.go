package wdaclient

import "errors"

var errNoSessionID = errors.New("WDA did not return a session id")
