package main

// Tracker blank imports: each import registers its client factory with the
// tracker registry.

import (
	_ "github.com/Strob0t/LaneSync/internal/adapter/jira"
	_ "github.com/Strob0t/LaneSync/internal/adapter/openproject"
)
