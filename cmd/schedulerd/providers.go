package main

// Notifier blank imports. Each import registers a notifier factory.

import (
	_ "github.com/manutej/calendar-availability-system-sub000/internal/adapter/slack"
)
