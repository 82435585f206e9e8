package membership

import (
    "context"
    "testing"
)

type fakeLayer struct{ score int }

func (fakeLayer) Start(context.Context) error { return nil }
func (fakeLayer) Join([]string) error         { return nil }
func (fakeLayer) Local() MemberInfo           { return MemberInfo{} }
func (fakeLayer) Members() []MemberInfo       { return nil }
func (fakeLayer) Events() <-chan Event        { return nil }
func (fakeLayer) Leave() error                { return nil }
func (fakeLayer) Stop() error                 { return nil }

type scoredLayer struct{ fakeLayer }

func (s scoredLayer) HealthScore() int { return s.score }

func TestDegraded(t *testing.T) {
    if Degraded(fakeLayer{score: 9}, 4) { t.Fatalf("a layer without a score is never degraded") }
    if Degraded(scoredLayer{fakeLayer{score: 3}}, 4) { t.Fatalf("score 3 below limit 4") }
    if !Degraded(scoredLayer{fakeLayer{score: 4}}, 4) { t.Fatalf("score at the limit is degraded") }
}

func TestHeartbeatMeta(t *testing.T) {
    m := MemberInfo{Meta: map[string]string{MetaHeartbeat: "10.0.0.1:9050"}}
    if m.Heartbeat() != "10.0.0.1:9050" { t.Fatalf("heartbeat = %q", m.Heartbeat()) }
    if (MemberInfo{}).Heartbeat() != "" { t.Fatalf("empty meta should yield no heartbeat") }
}
