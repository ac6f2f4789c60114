package main

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/pms/internal/capture"
	"github.com/banshee-data/pms/internal/db"
	"github.com/banshee-data/pms/internal/reader"
	"github.com/banshee-data/pms/internal/sensor"
	"github.com/banshee-data/pms/internal/sink"
	"github.com/banshee-data/pms/internal/version"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "pms",
		Short: "Read particulate matter and environmental sensors over UART",
		Long: "pms speaks the serial protocol of Plantower, NovaFitness, Honeywell, Sensirion,\n" +
			"Bosch Sensortec and Winsen sensor modules.\n\nSupported sensors: " +
			strings.Join(sensor.Names(), ", "),
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	a.bindFlags(root)

	root.AddCommand(
		newSerialCmd(a),
		newCSVCmd(a),
		newSQLiteCmd(a),
		newMQTTCmd(a),
		newInfluxCmd(a),
		newInfoCmd(a),
		newMigrateCmd(a),
	)
	return root
}

func newSerialCmd(a *app) *cobra.Command {
	var (
		format string
		decode string
	)
	cmd := &cobra.Command{
		Use:   "serial",
		Short: "Print observations to the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := sensor.ParseRenderMode(format)
			if err != nil {
				return err
			}
			p := &printer{a: a, mode: mode}
			if decode != "" {
				return a.replay(cmd.Context(), decode, p.print)
			}
			r, err := a.reader()
			if err != nil {
				return err
			}
			return reader.Run(cmd.Context(), r, p.print)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "default", "output layout: default, csv, pm, num, cf, raw, atm")
	cmd.Flags().StringVar(&decode, "decode", "", "decode a capture CSV file or SQLite database instead of reading the sensor")
	return cmd
}

// printer writes observations to stdout, with a header line first in csv
// mode.
type printer struct {
	a      *app
	mode   sensor.RenderMode
	header bool
}

func (p *printer) print(obs sensor.Observation) error {
	if p.mode == sensor.RenderCSV && !p.header {
		header, err := obs.Render(sensor.RenderHeader)
		if err != nil {
			return err
		}
		p.a.printf("%s\n", header)
		p.header = true
	}
	line, err := obs.Render(p.mode)
	if err != nil {
		return err
	}
	p.a.printf("%s\n", line)
	return nil
}

// replay decodes the captures stored in a CSV file or a SQLite database for
// the configured sensor.
func (a *app) replay(ctx context.Context, path string, fn func(sensor.Observation) error) error {
	s, err := a.sensor()
	if err != nil {
		return err
	}

	var msgs iter.Seq2[sensor.RawMessage, error]
	if isDatabase(path) {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		store, err := db.NewDB(path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()
		rows, err := store.Captures(ctx, s.Name)
		if err != nil {
			return err
		}
		msgs = capture.Slice(rows)
	} else {
		var closeFn func() error
		msgs, closeFn, err = capture.Open(path, s.Name)
		if err != nil {
			return err
		}
		defer closeFn()
	}

	for obs, err := range capture.Decode(s, msgs, nil) {
		if err != nil {
			return err
		}
		if err := fn(obs); err != nil {
			return err
		}
	}
	return nil
}

func isDatabase(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

func newCSVCmd(a *app) *cobra.Command {
	var (
		raw       bool
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "csv FILE",
		Short: "Append observations or raw captures to a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.reader()
			if err != nil {
				return err
			}
			if raw {
				w, err := capture.Create(args[0])
				if err != nil {
					return err
				}
				defer w.Close()
				return reader.RunRaw(cmd.Context(), r, w.Write)
			}
			out, err := sink.NewCSV(args[0], overwrite)
			if err != nil {
				return err
			}
			defer out.Close()
			return reader.Run(cmd.Context(), r, func(obs sensor.Observation) error {
				return out.Publish(cmd.Context(), obs)
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "capture", false, "write undecoded answers as time, sensor, hex rows")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace the file instead of appending")
	return cmd
}

func newSQLiteCmd(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "sqlite [DB]",
		Short: "Store observations or raw captures in a SQLite database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.GetDBPath()
			if len(args) == 1 {
				path = args[0]
			}
			store, err := db.NewDB(path)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer store.Close()

			r, err := a.reader()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if raw {
				return reader.RunRaw(ctx, r, func(msg sensor.RawMessage) error {
					return store.RecordCapture(ctx, msg)
				})
			}
			return reader.Run(ctx, r, func(obs sensor.Observation) error {
				return store.RecordObservation(ctx, obs)
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "capture", false, "store undecoded answers instead of observations")
	return cmd
}

func newMQTTCmd(a *app) *cobra.Command {
	var host, topic, user, password string
	var port int
	cmd := &cobra.Command{
		Use:   "mqtt",
		Short: "Publish observations to an MQTT broker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := a.cfg.MQTT
			flags := cmd.Flags()
			if flags.Changed("host") {
				m.Host = &host
			}
			if flags.Changed("mqtt-port") {
				m.Port = &port
			}
			if flags.Changed("topic") {
				m.Topic = &topic
			}
			if flags.Changed("user") {
				m.User = &user
			}
			if flags.Changed("password") {
				m.Password = &password
			}

			client := sink.NewMQTT(sink.MQTTOptions{
				Broker:   m.Broker(),
				Topic:    m.GetTopic(),
				User:     m.GetUser(),
				Password: m.GetPassword(),
				ClientID: m.GetClientID(),
			}, a.logger)
			defer client.Close()

			ctx := cmd.Context()
			if err := client.Connect(ctx); err != nil {
				return err
			}
			return a.publish(ctx, client)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "broker host (default test.mosquitto.org)")
	cmd.Flags().IntVar(&port, "mqtt-port", 0, "broker port (default 1883)")
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "topic prefix (default homie/test)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "broker user")
	cmd.Flags().StringVarP(&password, "password", "p", "", "broker password")
	return cmd
}

func newInfluxCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "influxdb",
		Short: "Write observations to an InfluxDB v2 bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := a.cfg.InfluxDB
			flags := cmd.Flags()
			for name, dst := range map[string]**string{
				"url": &c.URL, "token": &c.Token, "org": &c.Org, "bucket": &c.Bucket, "location": &c.Location,
			} {
				if flags.Changed(name) {
					v, _ := flags.GetString(name)
					*dst = &v
				}
			}

			out := sink.NewInflux(sink.InfluxOptions{
				URL:      c.GetURL(),
				Token:    c.GetToken(),
				Org:      c.GetOrg(),
				Bucket:   c.GetBucket(),
				Location: c.GetLocation(),
			})
			defer out.Close()
			return a.publish(cmd.Context(), out)
		},
	}
	cmd.Flags().String("url", "", "server URL (default http://localhost:8086)")
	cmd.Flags().String("token", "", "API token")
	cmd.Flags().String("org", "", "organisation (default pms)")
	cmd.Flags().String("bucket", "", "bucket (default test)")
	cmd.Flags().String("location", "", "location tag (default test)")
	return cmd
}

// publish runs a session that hands every observation to out.
func (a *app) publish(ctx context.Context, out sink.Sink) error {
	r, err := a.reader()
	if err != nil {
		return err
	}
	return reader.Run(ctx, r, func(obs sensor.Observation) error {
		return out.Publish(ctx, obs)
	})
}

func newInfoCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Describe the selected sensor, or every supported sensor",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if all {
				for _, s := range sensor.All() {
					a.printf("%s\n", s.Describe())
				}
				return nil
			}
			s, err := a.sensor()
			if err != nil {
				return err
			}
			a.printf("%s", s.Describe())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "list every supported sensor")
	return cmd
}
