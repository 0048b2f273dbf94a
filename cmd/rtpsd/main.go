// Command rtpsd runs a single RTPS domain participant: it discovers
// peers over SPDP/SEDP, serves the admin/introspection HTTP surface,
// and keeps running until asked to stop.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rtpsmesh/rtpsd/config"
	"github.com/rtpsmesh/rtpsd/pkg/admin"
	"github.com/rtpsmesh/rtpsd/pkg/flags"
	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/participant"
	"github.com/rtpsmesh/rtpsd/rtps/qos"
)

func main() {
	var (
		configPath    string
		domainID      int
		participantID int
		announceName  string
		adminAddr     string
		enablePprof   bool
	)

	root := &cobra.Command{
		Use:   "rtpsd",
		Short: "Run an RTPS domain participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), rtpsdOptions{
				configPath:    configPath,
				domainID:      domainID,
				participantID: participantID,
				announceName:  announceName,
				adminAddr:     adminAddr,
				enablePprof:   enablePprof,
			})
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a DomainParticipantConfig YAML file")
	root.Flags().IntVar(&domainID, "domain-id", 0, "RTPS domain id (ignored if --config is set)")
	root.Flags().IntVar(&participantID, "participant-id", 0, "RTPS participant id (ignored if --config is set)")
	root.Flags().StringVar(&announceName, "announce-name", "", "name carried in SPDP announcements (ignored if --config is set)")
	root.Flags().StringVar(&adminAddr, "admin-addr", ":9990", "address to serve the admin/introspection HTTP surface on")
	root.Flags().BoolVar(&enablePprof, "enable-pprof", false, "enable pprof endpoints on the admin server")

	flags.AddLoggingFlags(root)
	flags.AddVersionCommand(root)

	if err := root.ExecuteContext(context.Background()); err != nil {
		flags.FatalOnError(err)
	}
}

type rtpsdOptions struct {
	configPath    string
	domainID      int
	participantID int
	announceName  string
	adminAddr     string
	enablePprof   bool
}

func run(ctx context.Context, opts rtpsdOptions) error {
	flags.LogRunningVersion()

	cfg := &config.DomainParticipantConfig{
		DomainID:      opts.domainID,
		ParticipantID: opts.participantID,
		AnnounceName:  opts.announceName,
	}
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg.ApplyDefaults()
	}

	peerLocators, peerErrs := cfg.PeerLocators()
	for _, err := range peerErrs {
		log.Warnf("rtpsd: %s", err)
	}

	p, err := participant.New(participant.Config{
		DomainID:      cfg.DomainID,
		ParticipantID: cfg.ParticipantID,
		AnnounceName:  cfg.AnnounceName,
		InitialPeers:  peerLocators,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	log.WithFields(log.Fields{
		"prefix":        p.Prefix,
		"domainId":      cfg.DomainID,
		"participantId": cfg.ParticipantID,
	}).Info("rtpsd: participant started")

	adminServer := admin.NewServer(opts.adminAddr, opts.enablePprof, p)
	p.Listener = participantListener(adminServer)

	go func() {
		log.Infof("rtpsd: starting admin server on %s", opts.adminAddr)
		if err := adminServer.ListenAndServe(); err != nil {
			log.Warnf("rtpsd: admin server stopped: %s", err)
		}
	}()

	if opts.configPath != "" {
		watcher := config.NewWatcher(opts.configPath, cfg)
		watcher.OnPeersAdded = func(added []string) {
			for _, peer := range added {
				l, err := config.ParsePeer(peer)
				if err != nil {
					log.Warnf("rtpsd: ignoring new peer %q: %s", peer, err)
					continue
				}
				p.AddInitialPeer(l)
			}
		}
		watchCtx, cancelWatch := context.WithCancel(ctx)
		defer cancelWatch()
		go func() {
			if err := watcher.Start(watchCtx); err != nil && watchCtx.Err() == nil {
				log.Warnf("rtpsd: config watcher stopped: %s", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("rtpsd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return adminServer.Shutdown(shutdownCtx)
}

func participantListener(adminServer *admin.Server) participant.Listener {
	return participant.Listener{
		OnParticipantDiscovered: func(prefix guid.GuidPrefix) {
			adminServer.Publish(admin.Event{Kind: "participant-discovered", Writer: prefix.String(), Timestamp: time.Now()})
		},
		OnParticipantLost: func(prefix guid.GuidPrefix) {
			adminServer.Publish(admin.Event{Kind: "participant-lost", Writer: prefix.String(), Timestamp: time.Now()})
		},
		OnEndpointsMatched: func(w, r guid.GUID) {
			adminServer.Publish(admin.Event{Kind: "matched", Writer: w.String(), Reader: r.String(), Timestamp: time.Now()})
		},
		OnEndpointsUnmatched: func(w, r guid.GUID) {
			adminServer.Publish(admin.Event{Kind: "unmatched", Writer: w.String(), Reader: r.String(), Timestamp: time.Now()})
		},
		OnOfferedIncompatibleQoS: func(w guid.GUID, reason qos.Incompatibility) {
			adminServer.Publish(admin.Event{Kind: "offered-incompatible-qos", Writer: w.String(), Reason: reason.String(), Timestamp: time.Now()})
		},
		OnRequestedIncompatibleQoS: func(r guid.GUID, reason qos.Incompatibility) {
			adminServer.Publish(admin.Event{Kind: "requested-incompatible-qos", Reader: r.String(), Reason: reason.String(), Timestamp: time.Now()})
		},
		OnLivelinessChanged: func(local, remote guid.GUID, aliveChange int) {
			adminServer.Publish(admin.Event{Kind: "liveliness-changed", Writer: local.String(), Reader: remote.String(), AliveChange: aliveChange, Timestamp: time.Now()})
		},
	}
}
