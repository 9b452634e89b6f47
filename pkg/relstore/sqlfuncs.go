package relstore

import (
	"database/sql/driver"
	"fmt"
	"regexp"
	"sync"

	sqlite "modernc.org/sqlite"
)

// SQLite has no built-in REGEXP operator; "col REGEXP ?" is parsed into a
// call to a user function named regexp(pattern, value). Registering it
// here, once per process, is what makes pkg/filter's Regex predicate a
// real SQL fragment instead of a post-query Go filter.
var (
	regexpOnce sync.Once
	regexCache sync.Map // pattern string -> *regexp.Regexp
)

func registerRegexpFunc() {
	regexpOnce.Do(func() {
		_ = sqlite.RegisterDeterministicScalarFunction("regexp", 2, regexpImpl)
	})
}

func regexpImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("regexp: expected 2 arguments, got %d", len(args))
	}
	pattern, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("regexp: pattern argument must be TEXT")
	}
	if args[1] == nil {
		return false, nil
	}
	value, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("regexp: value argument must be TEXT")
	}

	re, err := compiledRegex(pattern)
	if err != nil {
		return nil, err
	}
	return re.MatchString(value), nil
}

func compiledRegex(pattern string) (*regexp.Regexp, error) {
	if cached, ok := regexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("regexp: %w", err)
	}
	regexCache.Store(pattern, re)
	return re, nil
}
