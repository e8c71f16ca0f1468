package models

import "strings"

// DepthConfig sizes a plan and bounds recursion for one depth level.
type DepthConfig struct {
	MinQuestions int
	MaxQuestions int
	MaxRecursion int
}

var depthTable = map[DepthLevel]DepthConfig{
	DepthQuick:         {MinQuestions: 3, MaxQuestions: 5, MaxRecursion: 1},
	DepthStandard:      {MinQuestions: 5, MaxQuestions: 7, MaxRecursion: 2},
	DepthComprehensive: {MinQuestions: 7, MaxQuestions: 10, MaxRecursion: 3},
}

// ConfigForDepth returns the sizing for a depth level, falling back to standard.
func ConfigForDepth(level DepthLevel) DepthConfig {
	if cfg, ok := depthTable[level]; ok {
		return cfg
	}
	return depthTable[DepthStandard]
}

// MaxDepth is the recursion ceiling for a depth level.
func MaxDepth(level DepthLevel) int {
	return ConfigForDepth(level).MaxRecursion
}

// ParseDepthLevel accepts a case-insensitive level name; empty means standard.
func ParseDepthLevel(s string) (DepthLevel, bool) {
	switch DepthLevel(strings.ToLower(strings.TrimSpace(s))) {
	case "", DepthStandard:
		return DepthStandard, true
	case DepthQuick:
		return DepthQuick, true
	case DepthComprehensive:
		return DepthComprehensive, true
	default:
		return DepthLevel(s), false
	}
}
