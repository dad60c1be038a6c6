// Command critic evaluates a recorded rollout with the clustered attention
// critic and prints each agent's Q-value and cluster per step.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/phillipinseoul/Cluster-MAAC/engine/critic"
	"github.com/phillipinseoul/Cluster-MAAC/service/internal/checkpoint"
	"github.com/phillipinseoul/Cluster-MAAC/service/internal/config"
	"github.com/phillipinseoul/Cluster-MAAC/service/internal/metrics"
	"github.com/phillipinseoul/Cluster-MAAC/service/internal/rollout"
)

func main() {
	var (
		cfgPath     = flag.String("config", "critic.yaml", "YAML config file")
		envPath     = flag.String("env", ".env", "optional .env file with CMAAC_* overrides")
		rolloutPath = flag.String("rollout", "", "JSON rollout file to evaluate")
		ckptPath    = flag.String("checkpoint", "", "parameter checkpoint (overrides checkpoint.path)")
		initCkpt    = flag.Bool("init-checkpoint", false, "write freshly initialised parameters to the checkpoint path and exit")
	)
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(log, os.Stdout, *cfgPath, *envPath, *rolloutPath, *ckptPath, *initCkpt); err != nil {
		log.WithError(err).Error("critic failed")
		os.Exit(1)
	}
}

func run(log *logrus.Logger, out io.Writer, cfgPath, envPath, rolloutPath, ckptPath string, initCkpt bool) error {
	cfg, err := config.Load(cfgPath, envPath)
	if err != nil {
		return err
	}
	log.SetLevel(cfg.LogLevel())
	if ckptPath == "" {
		ckptPath = cfg.Checkpoint.Path
	}
	cc := cfg.CriticConfig()

	if initCkpt {
		if ckptPath == "" {
			return errors.New("-init-checkpoint needs -checkpoint or checkpoint.path")
		}
		params, err := critic.NewParams(cc, cfg.Clustering.Seed)
		if err != nil {
			return err
		}
		h, err := checkpoint.Save(ckptPath, cc, params)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"path": ckptPath, "checkpoint": h.ID}).Info("wrote fresh checkpoint")
		return nil
	}

	if rolloutPath == "" {
		return errors.New("missing -rollout")
	}
	rf, err := readRolloutFile(rolloutPath)
	if err != nil {
		return err
	}

	var params *critic.Params
	if ckptPath != "" {
		var h checkpoint.Header
		if params, h, err = checkpoint.Load(ckptPath, cc); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"path": ckptPath, "checkpoint": h.ID, "created": h.Created}).Info("loaded checkpoint")
	} else {
		log.Warn("no checkpoint configured, using freshly initialised parameters")
		if params, err = critic.NewParams(cc, cfg.Clustering.Seed); err != nil {
			return err
		}
	}

	var store *metrics.Store
	if cfg.Metrics.SQLitePath != "" {
		if store, err = metrics.OpenStore(cfg.Metrics.SQLitePath); err != nil {
			return fmt.Errorf("open metrics store: %w", err)
		}
		defer store.Close()
	}

	ids := rf.Agents
	if len(ids) == 0 {
		ids = nil
	}
	sess, err := rollout.NewSession(cfg, params, ids, log, nil)
	if err != nil {
		return err
	}
	sess.SetScalarLogger(metrics.NewLogger(log.WithField("session", sess.ID), store, sess.ID))

	for step, rec := range rf.Steps {
		states, actions, err := rec.matrices()
		if err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		if step == 0 {
			if err := sess.Reset(states); err != nil {
				return err
			}
		}
		results, err := sess.Step(rollout.StepInput{States: states, Actions: actions})
		if err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		for _, r := range results {
			q := mat.Col(nil, 0, r.Q)
			fmt.Fprintf(out, "step=%d agent=%s index=%d cluster=%d mean_q=%.6f\n",
				step, r.ID, r.Agent, r.Cluster, stat.Mean(q, nil))
		}
	}
	log.WithFields(logrus.Fields{"session": sess.ID, "steps": sess.Steps()}).Info("rollout evaluated")
	return nil
}
