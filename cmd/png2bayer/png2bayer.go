// Copyright 2016 Michael Stapelberg and contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Program png2bayer converts numbered PNG test images into raw Bayer CFA (GB
// pattern) sensor records, optionally rescaled to 10 or 12 bits per pixel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stapelberg/png2bayer"
	"github.com/stapelberg/png2bayer/internal/batch"
	"github.com/stapelberg/png2bayer/internal/mayqtt"
	"github.com/stapelberg/png2bayer/internal/progress"
	"golang.org/x/net/trace"
	"golang.org/x/sync/errgroup"
)

func initLogger(debugMode, jsonMode bool) *logrus.Logger {
	logger := logrus.StandardLogger()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.InfoLevel)
	if debugMode {
		logger.SetLevel(logrus.DebugLevel)
	}
	if jsonMode {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	}
	return logger
}

// parseFlags registers all flags on fs, parses args and returns the resulting
// batch configuration.
func parseFlags(fs *flag.FlagSet, args []string) (*batch.Config, *options, error) {
	var (
		cfg  batch.Config
		opts options
	)
	fs.StringVar(&cfg.InputDir, "input_dir",
		"",
		"Directory containing the source images {filename_format}{index:02}.png. Images can be RGB or grayscale. (required)")
	fs.StringVar(&cfg.OutputDir, "output_dir",
		"",
		"Directory to write {filename_format}{bpp}bpp_{index:02}.bin (and .png) to. Created if it does not exist. (required)")
	fs.IntVar(&cfg.Start, "start",
		0,
		"First image index to convert (required)")
	fs.IntVar(&cfg.End, "end",
		0,
		"Last image index to convert, inclusive (required)")
	fs.IntVar(&cfg.LossyBits, "lossy_bits",
		0,
		fmt.Sprintf("Lossy bits recorded in the header for the downstream compressor (0 = lossless, max %d)", png2bayer.MaxLossyBits))
	fs.BoolVar(&cfg.AlreadyBayer, "already_bayer",
		false,
		"Set only if the images are grayscale and already in the Bayer colour filter array layout")
	fs.IntVar(&cfg.BPP, "bpp",
		8,
		"Bits per pixel of the output samples (8, 10 or 12)")
	fs.StringVar(&cfg.FilenameFormat, "filename_format",
		batch.DefaultFilenameFormat,
		"File name prefix of input and output images")
	fs.BoolVar(&cfg.KeepGoing, "keep_going",
		false,
		"Continue with the next image if one fails, reporting all failures at the end")
	fs.BoolVar(&cfg.WritePNG, "write_png",
		true,
		"Also write the mosaic as an 8-bit grayscale PNG next to the .bin file")
	fs.BoolVar(&cfg.Verify, "verify",
		false,
		"Read back the header of every written .bin file and check its size")
	fs.StringVar(&opts.reportPath, "report",
		"",
		"If non-empty, path to write a JSON report of the run to")
	fs.StringVar(&opts.mqttBroker, "mqtt_broker",
		"",
		"If non-empty, MQTT broker (e.g. tcp://dr.lan:1883) to publish progress to, on topic "+mayqtt.StatusTopic)
	fs.StringVar(&opts.debugListenAddr, "debug_listen_address",
		"",
		"If non-empty, [host]:port to serve /debug/requests on while converting")
	fs.BoolVar(&opts.debug, "debug",
		false,
		"Enable debug logging")
	fs.BoolVar(&opts.logJSON, "log_json",
		false,
		"Log in JSON format instead of text")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() > 0 {
		return nil, nil, fmt.Errorf("%w: unexpected arguments %q", png2bayer.ErrInvalidOption, fs.Args())
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for _, name := range []string{"input_dir", "output_dir", "start", "end"} {
		if !set[name] {
			return nil, nil, fmt.Errorf("%w: -%s", png2bayer.ErrMissingInput, name)
		}
	}
	return &cfg, &opts, nil
}

type options struct {
	reportPath      string
	mqttBroker      string
	debugListenAddr string
	debug           bool
	logJSON         bool
}

// newFlagSet returns an empty flag set printing usage and parse errors to w.
func newFlagSet(w io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("png2bayer", flag.ContinueOnError)
	fs.SetOutput(w)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: png2bayer -input_dir=<dir> -output_dir=<dir> -start=<n> -end=<n> [flags]\n\n")
		fmt.Fprintf(fs.Output(), "Converts {filename_format}{index:02}.png into raw Bayer CFA (GB) records.\n\n")
		fs.PrintDefaults()
	}
	return fs
}

func logic(args []string) error {
	return run(newFlagSet(os.Stderr), args)
}

func run(fs *flag.FlagSet, args []string) error {
	cfg, opts, err := parseFlags(fs, args)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		if errors.Is(err, png2bayer.ErrMissingInput) || errors.Is(err, png2bayer.ErrInvalidOption) {
			fs.Usage()
		}
		return err
	}

	logger := initLogger(opts.debug, opts.logJSON)
	cfg.Log = logger
	reporters := progress.Multi{&progress.Bar{W: os.Stdout}}

	ctx, canc := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer canc()

	eg, ctx := errgroup.WithContext(ctx)
	// done is canceled once the batch is over, which stops the listeners.
	done, finish := context.WithCancel(ctx)
	defer finish()

	if opts.mqttBroker != "" {
		pub := mayqtt.NewPublisher(opts.mqttBroker, "png2bayer")
		reporters = append(reporters, pub)
		eg.Go(func() error {
			if err := pub.Loop(done); err != nil {
				// progress publishing is best-effort
				logger.Warn(err)
			}
			return nil
		})
	}

	if opts.debugListenAddr != "" {
		ln, err := net.Listen("tcp", opts.debugListenAddr)
		if err != nil {
			return err
		}
		// for /debug/requests:
		trace.AuthRequest = func(req *http.Request) (bool, bool) {
			host, _, err := net.SplitHostPort(req.RemoteAddr)
			if err != nil {
				host = req.RemoteAddr
			}
			ip := net.ParseIP(host)
			if ip == nil {
				return false, false
			}
			if ip.IsLoopback() || ip.IsPrivate() {
				return true, true
			}
			return false, false
		}
		srv := &http.Server{Handler: http.DefaultServeMux}
		logger.Infof("serving traces on http://%s/debug/requests", ln.Addr())
		eg.Go(func() error {
			errC := make(chan error, 1)
			go func() {
				errC <- srv.Serve(ln)
			}()
			select {
			case err := <-errC:
				return err
			case <-done.Done():
				timeout, canc := context.WithTimeout(context.Background(), 250*time.Millisecond)
				defer canc()
				if err := srv.Shutdown(timeout); err != nil {
					logger.Warnf("shutting down debug listener: %v", err)
				}
				return nil
			}
		})
	}

	cfg.Progress = reporters
	var rep *batch.Report
	eg.Go(func() error {
		defer finish()
		var err error
		rep, err = batch.Run(ctx, cfg)
		return err
	})
	err = eg.Wait()

	if rep != nil && opts.reportPath != "" {
		if werr := rep.WriteFile(opts.reportPath); werr != nil {
			logger.Errorf("writing report: %v", werr)
		} else {
			logger.Infof("report written to %s", opts.reportPath)
		}
	}
	if err != nil {
		return err
	}
	fmt.Println(" ")
	fmt.Printf("Done! Images successfully written to %s/ (%v)\n", cfg.OutputDir, rep.Elapsed().Round(time.Millisecond))
	return nil
}

func main() {
	if err := logic(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		logrus.Fatal(err)
	}
}
