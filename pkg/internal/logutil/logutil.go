// Package logutil adds levels and an optional JSON line format on top of a
// plain *log.Logger. Messages follow the "event: key=value ..." convention;
// in JSON mode the event and the pairs become separate fields.
package logutil

import (
    "encoding/json"
    "fmt"
    "log"
    "os"
    "strings"
    "sync/atomic"
    "time"
)

type level string

const (
    levelDebug level = "debug"
    levelInfo  level = "info"
    levelWarn  level = "warn"
    levelError level = "error"
)

var (
    jsonMode  atomic.Bool
    debugMode atomic.Bool
)

// CLUSTERSYNC_LOG_FORMAT=json and CLUSTERSYNC_LOG_LEVEL=debug set the
// initial modes.
func init() {
    jsonMode.Store(strings.EqualFold(os.Getenv("CLUSTERSYNC_LOG_FORMAT"), "json"))
    debugMode.Store(strings.EqualFold(os.Getenv("CLUSTERSYNC_LOG_LEVEL"), "debug"))
}

func SetJSON(enabled bool)  { jsonMode.Store(enabled) }
func SetDebug(enabled bool) { debugMode.Store(enabled) }

func Debugf(l *log.Logger, f string, args ...any) {
    if debugMode.Load() { emit(l, levelDebug, fmt.Sprintf(f, args...)) }
}

func Infof(l *log.Logger, f string, args ...any)  { emit(l, levelInfo, fmt.Sprintf(f, args...)) }
func Warnf(l *log.Logger, f string, args ...any)  { emit(l, levelWarn, fmt.Sprintf(f, args...)) }
func Errorf(l *log.Logger, f string, args ...any) { emit(l, levelError, fmt.Sprintf(f, args...)) }

func emit(l *log.Logger, lv level, msg string) {
    if l == nil { l = log.Default() }
    if !jsonMode.Load() {
        // Output keeps the logger's own prefix and flags
        _ = l.Output(3, strings.ToUpper(string(lv))+" "+msg)
        return
    }
    rec := map[string]any{"ts": time.Now().UTC().Format(time.RFC3339Nano), "level": lv}
    event, rest, cut := strings.Cut(msg, ": ")
    fields, ok := pairs(rest)
    if cut && ok && !strings.Contains(event, "=") {
        rec["event"] = event
        for k, v := range fields {
            if _, taken := rec[k]; !taken { rec[k] = v }
        }
    } else {
        rec["msg"] = msg
    }
    b, err := json.Marshal(rec)
    if err != nil { b = []byte(fmt.Sprintf(`{"level":%q,"msg":%q}`, lv, msg)) }
    _ = l.Output(3, string(b))
}

// pairs parses "k=v k2=v2". Values run until the next " key=" so free text
// such as error messages survives; a segment without "=" fails the parse.
func pairs(s string) (map[string]string, bool) {
    out := map[string]string{}
    fields := strings.Fields(s)
    key := ""
    for _, f := range fields {
        k, v, ok := strings.Cut(f, "=")
        if ok && k != "" && !strings.ContainsAny(k, `"'`) {
            key = k
            out[key] = v
            continue
        }
        if key == "" { return nil, false }
        out[key] += " " + f
    }
    return out, len(out) > 0
}
