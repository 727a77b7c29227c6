package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"surfacehost/internal/canvas"
	"surfacehost/internal/config"
	"surfacehost/internal/console"
	"surfacehost/internal/realtime"
	"surfacehost/internal/service"
	"surfacehost/internal/surface"
	"surfacehost/internal/uithread"
	"surfacehost/internal/watcher"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	interactive := cfg.UIMode == config.UITerminal ||
		(cfg.UIMode == config.UIAuto && term.IsTerminal(int(os.Stdout.Fd())))

	// Views live on the UI thread: tview's event loop when there is a
	// terminal, a plain goroutine otherwise.
	var (
		app     *tview.Application
		mounter console.Mounter
		loop    *uithread.Loop
	)
	if interactive {
		app, mounter = newTerminalUI(cfg)
		loop = uithread.New(uithread.WithExecutor(func(fn func()) { app.QueueUpdateDraw(fn) }))
	} else {
		loop = uithread.New()
	}
	loop.Start()

	consoles := console.NewFactory(mounter, cfg.Console.Scrollback)
	factories := surface.NewFactoryMux()
	factories.Handle(surface.KindConsole, consoles)
	factories.Handle(surface.KindCanvas, canvas.NewFactory(cfg.Canvas.Width, cfg.Canvas.Height))
	reg := surface.NewRegistry(factories, loop)

	services := service.NewManager(reg, service.Config{
		Command:      cfg.Command(),
		MaxServices:  cfg.MaxServices,
		HistoryLines: cfg.HistoryLines,
	})

	rtServer := realtime.New(reg, services)
	factories.Handle(surface.KindCustom, rtServer.Views())

	fileWatch := watcher.New(0)
	if cfg.Path != "" {
		err := fileWatch.Watch(cfg.Path, func(path string) {
			reloadConfig(path, services, consoles)
		})
		if err != nil {
			log.Printf("config watch disabled: %v", err)
		}
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: rtServer.Handler(),
	}

	// Graceful shutdown on signals, or when the terminal UI is quit.
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rtServer.Run(ctx)
	})

	g.Go(func() error {
		log.Printf("surface host running on http://localhost:%d (ui: %s)", cfg.Port, uiName(interactive))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if app != nil {
		g.Go(func() error {
			defer cancel()
			if err := app.Run(); err != nil {
				return fmt.Errorf("terminal UI: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down...")

		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()

		fileWatch.Shutdown()
		services.Shutdown(shutdownCtx)
		httpServer.Shutdown(shutdownCtx)
		loop.Stop()
		if app != nil {
			app.Stop()
			log.SetOutput(os.Stderr)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("%v", err)
	}
}

// newTerminalUI builds the tview application: a system log page plus one page
// per console surface. Ctrl-N cycles through the pages.
func newTerminalUI(cfg config.Config) (*tview.Application, console.Mounter) {
	app := tview.NewApplication()
	pages := tview.NewPages()

	system := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(cfg.Console.Scrollback).
		SetChangedFunc(func() { app.Draw() })
	system.SetTitle("system").SetTitleAlign(tview.AlignLeft).SetBorder(true)
	pages.AddPage("system", system, true, true)
	log.SetOutput(tview.ANSIWriter(system))

	app.SetRoot(pages, true)
	app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() != tcell.KeyCtrlN {
			return ev
		}
		names := pages.GetPageNames(false)
		current, _ := pages.GetFrontPage()
		for i, name := range names {
			if name == current {
				pages.SwitchToPage(names[(i+1)%len(names)])
				break
			}
		}
		return nil
	})

	return app, console.NewPages(app, pages)
}

// reloadConfig applies the settings that can change while running.
func reloadConfig(path string, services *service.Manager, consoles *console.Factory) {
	cfg, err := config.ReadFile(path)
	if err != nil {
		log.Printf("config reload: %v", err)
		return
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		log.Printf("config reload: %v", err)
		return
	}

	services.SetMaxServices(cfg.MaxServices)
	consoles.SetScrollback(cfg.Console.Scrollback)
	log.Printf("config reloaded from %s: max_services=%d scrollback=%d", path, cfg.MaxServices, cfg.Console.Scrollback)
}

func uiName(interactive bool) string {
	if interactive {
		return config.UITerminal
	}
	return config.UIHeadless
}
