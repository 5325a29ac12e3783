package entity

import "errors"

var (
	ErrNegativeElapsed      = errors.New("elapsed time must not be negative")
	ErrVehicleNotRegistered = errors.New("vehicle is not registered on the road")
	ErrVehicleExists        = errors.New("vehicle is already registered on the road")
)
