package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/mixxaudio/mixxcore/internal/audio"
	"github.com/mixxaudio/mixxcore/internal/config"
	"github.com/mixxaudio/mixxcore/internal/curve"
	"github.com/mixxaudio/mixxcore/internal/idle"
	"github.com/mixxaudio/mixxcore/internal/meter"
	"github.com/mixxaudio/mixxcore/internal/mixer"
	"github.com/mixxaudio/mixxcore/internal/monitor"
	"github.com/mixxaudio/mixxcore/internal/params"
	"github.com/mixxaudio/mixxcore/internal/schedule"
	"github.com/mixxaudio/mixxcore/internal/session"
	"github.com/mixxaudio/mixxcore/internal/stream"
	"github.com/mixxaudio/mixxcore/internal/transport"
)

// masterVolume exposes the scheduler's master gain as a batchable parameter.
type masterVolume struct {
	sched *schedule.Scheduler
}

func (p masterVolume) Set(value, rampSeconds float64) error {
	p.sched.SetMasterVolume(value)
	return nil
}

func main() {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("mixxcore starting up...")

	store := session.NewStore()
	loadArrangement(store, cfg.MediaDir)

	// Software backend: renders voices into 20ms frames at real-time rate.
	mix := mixer.New()
	go mix.Pump(ctx)

	// Broadcaster: fan-out monitor frames to all listeners
	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, mix.Frames())

	sched := schedule.NewScheduler(mix, store, schedule.Config{
		SampleRate: audio.SampleRate,
		LookAhead:  cfg.LookAhead.Seconds(),
		GainRamp:   cfg.GainRamp.Seconds(),
	})
	sched.SetMasterVolume(cfg.MasterVolume)

	clock := transport.NewClock(nil)
	clock.SetBeatGrid(transport.NewBeatGrid(cfg.BPM, transport.TimeSignature{
		Numerator:   uint8(cfg.BeatsPerBar),
		Denominator: 4,
	}, audio.SampleRate))
	clock.SetPlaybackRate(cfg.PlaybackRate)

	// The clock drives region scheduling: every tick re-evaluates the
	// arrangement at the new timeline position.
	unsubscribe := clock.Subscribe(func(current, _ float64) {
		sched.Update(int64(current * audio.SampleRate))
	})
	defer unsubscribe()

	batcher := params.NewBatcher(cfg.BatchWindow)
	defer batcher.Close()
	master := masterVolume{sched: sched}

	curves := curve.NewCache(curve.CacheConfig{})
	curves.Start()
	defer curves.Stop()

	idleQ := idle.NewQueue(nil)
	// Warm the common fade shapes once the host loop has slack.
	idleQ.Schedule("warm-curves", func() {
		for _, amount := range []float64{0.25, 0.5, 0.75} {
			curves.Get(amount, 1024)
		}
	}, idle.Options{Priority: idle.Low})

	perf := monitor.New(cfg.MonitorMemory)
	releasePerf := perf.AddConsumer()
	defer releasePerf()

	meterCfg := meter.DefaultConfig()
	meterCfg.Calibration = cfg.MeterCalibration
	levels := meter.NewMeter(meterCfg)
	meterBufs := meter.NewBuffers(0, 0)

	var meterMu sync.Mutex
	var lastReading meter.Reading

	// Host control loop: transport tick, metering, deferred work.
	go func() {
		ticker := time.NewTicker(cfg.TickInterval)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Frame time is the tick-to-tick delta, so the published
				// FPS reflects the loop cadence.
				now := time.Now()
				perf.RecordFrame(now.Sub(last))
				last = now

				clock.Tick()
				mix.FillAnalysis(meterBufs)
				reading := levels.Measure(meterBufs)
				meterMu.Lock()
				lastReading = reading
				meterMu.Unlock()
				idleQ.RunPending(cfg.IdleBudget)
				perf.Count("ticks", 1)
			}
		}
	}()

	if cfg.Speaker {
		spk, err := stream.NewSpeaker(broadcaster)
		if err != nil {
			log.Printf("speaker unavailable: %v", err)
		} else {
			spk.Start()
			defer spk.Close()
			log.Println("speaker output enabled")
		}
	}

	webrtcHandler := stream.NewWebRTCHandler(broadcaster)

	// HTTP routes
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "mixxcore playback engine")
	})

	// Monitor streams
	mux.Handle("/stream", stream.NewHTTPHandler(broadcaster))
	mux.Handle("/offer", webrtcHandler)

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		meterMu.Lock()
		reading := lastReading
		meterMu.Unlock()
		stats := perf.Snapshot()
		beat := clock.BeatPosition()
		loop := clock.Loop()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(map[string]any{
			"playing":       clock.IsRunning(),
			"position":      clock.CurrentTime(),
			"rate":          clock.PlaybackRate(),
			"duration":      store.Duration(),
			"bar":           beat.Bar,
			"beat":          beat.Beat,
			"subdivision":   beat.Subdivision,
			"loop_enabled":  loop.Enabled,
			"loop_start":    loop.Start,
			"loop_end":      loop.End,
			"master_volume": sched.MasterVolume(),
			"active_voices": sched.ActiveVoices(),
			"meter": map[string]any{
				"rms":       reading.RMS,
				"level":     reading.Level,
				"peak":      reading.Peak,
				"crest":     reading.CrestFactor,
				"tilt":      reading.SpectralTilt,
				"low_band":  reading.LowBandEnergy,
				"transient": reading.Transient,
			},
			"perf": map[string]any{
				"fps":          stats.FPS,
				"avg_frame_ms": stats.AvgFrameMillis,
				"heap_bytes":   stats.HeapBytes,
				"counters":     stats.Counters,
			},
			"http_listeners":   broadcaster.ListenerCount(),
			"webrtc_listeners": webrtcHandler.PeerCount(),
		})
	})

	mux.HandleFunc("/api/transport", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Action string  `json:"action"`
			Time   float64 `json:"time"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		switch req.Action {
		case "play":
			clock.Start()
		case "pause":
			clock.Pause()
			sched.StopAll()
		case "stop":
			// Apply any queued parameter writes before the jump so they
			// cannot land after it.
			batcher.Flush(0)
			clock.Stop()
			sched.StopAll()
		case "seek":
			batcher.Flush(0)
			clock.Seek(req.Time)
			sched.Seek(req.Time)
		default:
			http.Error(w, "unknown action", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "position": clock.CurrentTime()})
	})

	mux.HandleFunc("/api/rate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Rate float64 `json:"rate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Rate <= 0 {
			http.Error(w, "invalid rate", http.StatusBadRequest)
			return
		}
		clock.SetPlaybackRate(req.Rate)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "rate": clock.PlaybackRate()})
	})

	mux.HandleFunc("/api/loop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Enabled bool    `json:"enabled"`
			Start   float64 `json:"start"`
			End     float64 `json:"end"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		clock.SetLoop(req.Enabled, req.Start, req.End)
		loop := clock.Loop()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true, "enabled": loop.Enabled, "start": loop.Start, "end": loop.End,
		})
	})

	mux.HandleFunc("/api/volume", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Volume float64 `json:"volume"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		// Coalesced: a burst of slider moves applies once per batch window.
		batcher.ScheduleUpdate(master, req.Volume, 0)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/tracks", func(w http.ResponseWriter, r *http.Request) {
		snap := store.Snapshot()
		type regionJSON struct {
			ID        string  `json:"id"`
			Name      string  `json:"name"`
			StartTime float64 `json:"start_time"`
			Duration  float64 `json:"duration"`
			Gain      float64 `json:"gain"`
			Muted     bool    `json:"muted"`
		}
		type trackJSON struct {
			ID      string       `json:"id"`
			Name    string       `json:"name"`
			Volume  float64      `json:"volume"`
			Muted   bool         `json:"muted"`
			Regions []regionJSON `json:"regions"`
		}
		out := make([]trackJSON, 0, len(snap.Tracks))
		for _, tv := range snap.Tracks {
			tj := trackJSON{
				ID: tv.ID, Name: tv.Name, Volume: tv.Volume, Muted: tv.Muted,
				Regions: make([]regionJSON, 0, len(tv.Regions)),
			}
			for _, reg := range tv.Regions {
				tj.Regions = append(tj.Regions, regionJSON{
					ID: reg.ID, Name: reg.Name, StartTime: reg.StartTime,
					Duration: reg.Duration, Gain: reg.Gain, Muted: reg.Muted,
				})
			}
			out = append(out, tj)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(map[string]any{"tracks": out})
	})

	mux.HandleFunc("/api/track", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			TrackID string   `json:"track_id"`
			Volume  *float64 `json:"volume"`
			Muted   *bool    `json:"muted"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrackID == "" {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if req.Volume != nil {
			store.SetTrackVolume(req.TrackID, *req.Volume)
		}
		if req.Muted != nil {
			store.SetTrackMuted(req.TrackID, *req.Muted)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/region", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			RegionID string   `json:"region_id"`
			Muted    *bool    `json:"muted"`
			Start    *float64 `json:"start"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RegionID == "" {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if req.Muted != nil {
			store.SetRegionMuted(req.RegionID, *req.Muted)
		}
		if req.Start != nil {
			store.MoveRegion(req.RegionID, *req.Start)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/curve", func(w http.ResponseWriter, r *http.Request) {
		amount, err := strconv.ParseFloat(r.URL.Query().Get("amount"), 64)
		if err != nil {
			http.Error(w, "invalid amount", http.StatusBadRequest)
			return
		}
		samples := 256
		if v := r.URL.Query().Get("samples"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 2 || n > 8192 {
				http.Error(w, "invalid samples", http.StatusBadRequest)
				return
			}
			samples = n
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(map[string]any{
			"amount": amount,
			"curve":  curves.Get(amount, samples),
		})
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		server.Close()
	}()

	log.Printf("mixxcore live on %s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}
}

// loadArrangement fills the store from the media directory, one track per
// decodable file, or falls back to a built-in tone arrangement.
func loadArrangement(store *session.Store, mediaDir string) {
	if mediaDir != "" {
		entries, err := os.ReadDir(mediaDir)
		if err != nil {
			log.Printf("media dir %s: %v, using built-in demo", mediaDir, err)
		} else {
			loaded := 0
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				path := filepath.Join(mediaDir, e.Name())
				buf, err := audio.DecodeBuffer(path)
				if err != nil {
					log.Printf("decode %s: %v", path, err)
					continue
				}
				trackID := store.AddTrack(e.Name())
				store.AddRegion(trackID, session.Region{
					Name:     e.Name(),
					Duration: buf.Duration(),
					Gain:     1.0,
					Buffer:   buf,
				})
				loaded++
			}
			if loaded > 0 {
				log.Printf("loaded %d tracks from %s", loaded, mediaDir)
				return
			}
		}
	}

	// Built-in demo: three tone tracks
	bass := store.AddTrack("bass")
	store.AddRegion(bass, session.Region{
		Name: "bass A", StartTime: 0, Duration: 4, Gain: 0.8,
		Buffer: audio.ToneBuffer(110, 4, 0.6),
	})
	store.AddRegion(bass, session.Region{
		Name: "bass B", StartTime: 4, Duration: 4, Gain: 0.8,
		Buffer: audio.ToneBuffer(98, 4, 0.6),
	})
	pad := store.AddTrack("pad")
	store.AddRegion(pad, session.Region{
		Name: "pad", StartTime: 0, Duration: 8, Gain: 0.5,
		Buffer: audio.ToneBuffer(220, 8, 0.4),
	})
	lead := store.AddTrack("lead")
	store.AddRegion(lead, session.Region{
		Name: "lead", StartTime: 2, Duration: 2, Gain: 0.7,
		Buffer: audio.ToneBuffer(440, 2, 0.5),
	})
	log.Println("no media configured, using built-in demo arrangement")
}
