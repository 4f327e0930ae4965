package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrUploadFailed    = errors.New("upload failed")
	ErrDispatchFailed  = errors.New("dispatch failed")
	ErrInvalidAsset    = errors.New("invalid asset")
	ErrUnsupportedPlan = errors.New("unsupported plan")
)
