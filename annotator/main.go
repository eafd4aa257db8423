package main

import (
	"context"
	"flag"
	"log"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"

	"github.com/itohio/pulsepeak/pkg/annotate"
	"github.com/itohio/pulsepeak/pkg/config"
	"github.com/itohio/pulsepeak/pkg/infer"
	"github.com/itohio/pulsepeak/pkg/logging"
	"github.com/itohio/pulsepeak/pkg/monitor"
	"github.com/itohio/pulsepeak/pkg/performer"
	"github.com/itohio/pulsepeak/pkg/scope"
	"github.com/itohio/pulsepeak/pkg/store"
)

func main() {
	var (
		portFlag           = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyUSB0)")
		configFlag         = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag           = flag.Bool("mock", false, "Use mocked sensor instead of serial port")
		averageSamplesFlag = flag.Int("average-samples", -1, "Number of raw samples to average (overrides config)")
		modelFlag          = flag.String("model", "", "Checkpoint enabling model-based detection")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *averageSamplesFlag >= 0 {
		cfg.Monitor.Averaging = *averageSamplesFlag
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	dsn, err := cfg.Store.ResolveDSN()
	if err != nil {
		logger.Fatal("Failed to resolve store DSN", zap.Error(err))
	}
	sessions, err := store.Open(dsn, logger)
	if err != nil {
		logger.Fatal("Failed to open session store", zap.Error(err))
	}
	defer sessions.Close()

	book, err := store.OpenStatusBook(cfg.Annotation.StatusFile)
	if err != nil {
		logger.Fatal("Failed to open status book", zap.Error(err))
	}
	ws := annotate.NewWorkspace(sessions, book, store.CSVSink{Dir: cfg.Annotation.Dir}, annotate.OptionsFrom(cfg.Annotation), logger)
	if err := ws.Reload(context.Background()); err != nil {
		logger.Error("Failed to load sessions", zap.Error(err))
	}

	pulseMonitor, err := monitor.New(cfg.Monitor, 0)
	if err != nil {
		logger.Fatal("Failed to create pulse monitor", zap.Error(err))
	}

	application := app.NewWithID("com.itohio.pulsepeak")
	window := application.NewWindow("PPG Peak Annotator")
	window.Resize(fyne.NewSize(1280, 800))
	window.CenterOnScreen()

	state := &appState{
		cfg:        cfg,
		configPath: *configFlag,
		log:        logger,
		store:      sessions,
		ws:         ws,
		monitor:    pulseMonitor,
		window:     window,
		useMock:    *mockFlag,
		current:    -1,
	}
	if *modelFlag != "" {
		state.loadModel(*modelFlag)
	}

	state.annotateScope = scope.New(0)
	state.liveScope = scope.New(cfg.Monitor.WindowSeconds)

	tabs := container.NewAppTabs(
		container.NewTabItem("Annotate", createAnnotateView(state)),
		container.NewTabItem("Live", createLiveView(state)),
	)
	window.SetContent(tabs)
	window.SetOnClosed(func() {
		closeMeasurementChain(state.chain)
	})

	state.refreshSessions()
	if ws.Len() > 0 {
		state.selectSession(ws.NextPending(-1))
	}
	window.ShowAndRun()
}

// appState holds the application state. It is only touched from the UI thread;
// monitor callbacks go through liveControls.
type appState struct {
	cfg        *config.Config
	configPath string
	log        *zap.Logger
	store      *store.Store
	ws         *annotate.Workspace
	window     fyne.Window

	// Annotation
	detector      *infer.Detector
	modelRate     float64
	current       int
	editor        *annotate.Editor
	annotateScope *scope.ScopeWidget
	sessionSelect *widget.Select
	summaryLabel  *widget.Label
	undoBtn       *widget.Button

	// Live acquisition
	monitor   *monitor.Monitor
	liveScope *scope.ScopeWidget
	useMock   bool
	chain     *measurementChain
	live      *liveControls
}

func (s *appState) loadModel(path string) {
	model, ckpt, err := performer.LoadFile(path)
	if err != nil {
		s.log.Error("Failed to load model, model detection disabled", zap.String("path", path), zap.Error(err))
		return
	}
	s.modelRate = ckpt.SampleRate
	if s.modelRate <= 0 {
		s.modelRate = s.cfg.Signal.SampleRate
	}
	s.detector = infer.NewDetector(model, infer.OptionsFrom(s.cfg.Inference, s.modelRate), s.log)
	s.log.Info("Model loaded", zap.String("path", path), zap.Int("epoch", ckpt.Epoch), zap.Float64("fs", s.modelRate))
}
