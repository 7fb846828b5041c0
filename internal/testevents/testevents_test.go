package testevents

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/okian/spawnfence/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	os.Exit(m.Run())
}

func testConfig() *Config {
	return &Config{
		NumEvents: 500,
		BatchSize: 40,
		Workers:   4,
		Timeout:   5 * time.Second,
		CenterLat: 40.7128,
		CenterLon: -74.006,
		Spread:    0.05,
		Seed:      7,
	}
}

// fakeReceiver mimics the receiver's classification closely enough for the
// sender's verification: other types are ignored and a missing stat is
// rejected.
type fakeReceiver struct {
	mu     sync.Mutex
	counts ReceiverStats
	posts  int
	fail   atomic.Bool
}

func (f *fakeReceiver) snapshot() (ReceiverStats, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts, f.posts
}

func (f *fakeReceiver) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(f.counts)
	})
	mux.HandleFunc("POST /webhook", func(w http.ResponseWriter, r *http.Request) {
		if f.fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		var body []struct {
			Type    string         `json:"type"`
			Message map[string]any `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res := WebhookResponse{Status: "success"}
		for _, e := range body {
			switch {
			case e.Type != "pokemon":
				res.Ignored++
			case e.Message["individual_attack"] == nil || e.Message["individual_defense"] == nil || e.Message["individual_stamina"] == nil:
				res.Rejected++
			default:
				res.Accepted++
			}
		}
		f.mu.Lock()
		f.posts++
		f.counts.Accepted += int64(res.Accepted)
		f.counts.Rejected += int64(res.Rejected)
		f.counts.Ignored += int64(res.Ignored)
		f.counts.Geofences = 1
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(res)
	})
	return mux
}

func TestGenerator(t *testing.T) {
	Convey("Given two generators with the same seed", t, func() {
		cfg := testConfig()
		a := NewGenerator(cfg)
		b := NewGenerator(cfg)
		fixed := time.Unix(1_700_000_000, 0)
		a.now = func() time.Time { return fixed }
		b.now = func() time.Time { return fixed }

		pa := a.Payloads(cfg.NumEvents, cfg.BatchSize)
		pb := b.Payloads(cfg.NumEvents, cfg.BatchSize)

		Convey("Then they should produce identical payloads", func() {
			ja, err := json.Marshal(pa)
			So(err, ShouldBeNil)
			jb, err := json.Marshal(pb)
			So(err, ShouldBeNil)
			So(string(ja), ShouldEqual, string(jb))
		})

		Convey("Then payloads should be split by batch size", func() {
			So(len(pa), ShouldEqual, 13)
			So(len(pa[0]), ShouldEqual, 40)
			So(len(pa[12]), ShouldEqual, 20)
		})

		Convey("Then every generated event should be counted under one kind", func() {
			total := 0
			for _, n := range a.Kinds() {
				total += n
			}
			So(total, ShouldEqual, cfg.NumEvents)
			So(a.Kinds()[KindValid], ShouldBeGreaterThan, 0)
			So(a.Kinds()[KindMissing], ShouldBeGreaterThan, 0)
			So(a.Kinds()[KindOtherType], ShouldBeGreaterThan, 0)
		})

		Convey("Then pokemon events should stay near the center unless sent far away", func() {
			for _, payload := range pa {
				for _, env := range payload {
					msg, ok := env.Message.(PokemonMessage)
					if !ok {
						So(env.Type, ShouldNotEqual, "pokemon")
						continue
					}
					So(msg.DisappearTime, ShouldBeGreaterThan, msg.FirstSeen)
					So(msg.Longitude, ShouldAlmostEqual, cfg.CenterLon, cfg.Spread)
				}
			}
		})
	})

	Convey("Given a zero batch size", t, func() {
		g := NewGenerator(testConfig())
		Convey("Then all events should go in one payload", func() {
			So(len(g.Payloads(25, 0)), ShouldEqual, 1)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a receiver that classifies events", t, func() {
		fr := &fakeReceiver{}
		srv := httptest.NewServer(fr.handler())
		defer srv.Close()

		cfg := testConfig()
		cfg.BaseURL = srv.URL
		cfg.OutputFile = filepath.Join(t.TempDir(), "out", "payloads.json")

		Convey("When a run completes", func() {
			err := Run(context.Background(), cfg)

			Convey("Then the counts should verify", func() {
				So(err, ShouldBeNil)
				counts, posts := fr.snapshot()
				So(posts, ShouldEqual, 13)
				So(counts.Accepted+counts.Rejected+counts.Ignored, ShouldEqual, int64(cfg.NumEvents))
			})

			Convey("Then the payloads should be saved", func() {
				data, err := os.ReadFile(cfg.OutputFile)
				So(err, ShouldBeNil)
				var saved [][]map[string]any
				So(json.Unmarshal(data, &saved), ShouldBeNil)
				So(len(saved), ShouldEqual, 13)
			})
		})

		Convey("When every post fails", func() {
			fr.fail.Store(true)
			stats := &Stats{}
			g := NewGenerator(cfg)
			err := submitPayloads(context.Background(), cfg, g.Payloads(100, 10), stats)

			Convey("Then failures should be counted, not returned", func() {
				So(err, ShouldBeNil)
				So(stats.PostsFailed, ShouldEqual, 10)
				So(stats.PostsSuccessful, ShouldEqual, 0)
			})
		})
	})

	Convey("Given an unreachable receiver", t, func() {
		cfg := testConfig()
		cfg.BaseURL = "http://127.0.0.1:1"
		cfg.Timeout = time.Second

		Convey("Then the health check should fail the run", func() {
			err := Run(context.Background(), cfg)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "health check")
		})
	})
}
