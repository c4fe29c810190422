package service

import (
	"sync"
	"time"
)

// PhoneSession links a pending OTP to the identity that requested it.
type PhoneSession struct {
	publicKey string
	phone     string
	startTime time.Time
	endTime   time.Time
	isActive  bool
	mu        sync.RWMutex
}

func NewPhoneSession(publicKey, phone string, start time.Time, duration time.Duration) *PhoneSession {
	return &PhoneSession{
		publicKey: publicKey,
		phone:     phone,
		startTime: start,
		endTime:   start.Add(duration),
		isActive:  true,
	}
}

func (ps *PhoneSession) Phone() string { return ps.phone }

func (ps *PhoneSession) IsActive(now time.Time) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.isActive && now.Before(ps.endTime)
}

func (ps *PhoneSession) End() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.isActive = false
}
