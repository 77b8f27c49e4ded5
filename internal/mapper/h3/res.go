package h3mapper

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	MinRes = 0
	MaxRes = 15
)

func validateRes(res int) error {
	if res < MinRes || res > MaxRes {
		return fmt.Errorf("invalid H3 resolution %d (must be %d..%d)", res, MinRes, MaxRes)
	}
	return nil
}

// ParseRes reads a resolution from a query value, falling back to def when empty.
func ParseRes(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, validateRes(def)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid H3 resolution %q", s)
	}
	return n, validateRes(n)
}
