// Package cassandra establishes and manages the connection to the cluster
// that gets traced.
package cassandra

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocql/gocql"
	hostpool "github.com/hailocab/go-hostpool"
	log "github.com/sirupsen/logrus"
)

// ConvertTimeout provides backwards compatibility for values that used to be specified as integers,
// while also allowing them to be specified as durations.
func ConvertTimeout(timeout string, defaultUnit time.Duration) time.Duration {
	if timeoutI, err := strconv.Atoi(timeout); err == nil {
		log.Warn("cassandra: specifying the timeout as integer is deprecated, please use a duration value")
		return time.Duration(timeoutI) * defaultUnit
	}
	timeoutD, err := time.ParseDuration(timeout)
	if err != nil {
		log.Fatalf("cassandra: invalid duration value %q", timeout)
	}
	return timeoutD
}

// BuildCluster translates a Config into a gocql ClusterConfig.
func BuildCluster(config *Config) (*gocql.ClusterConfig, error) {
	cluster := gocql.NewCluster(strings.Split(config.Addrs, ",")...)
	if config.SSL {
		cluster.SslOpts = &gocql.SslOptions{
			CertPath:               config.CertPath,
			KeyPath:                config.KeyPath,
			CaPath:                 config.CaPath,
			EnableHostVerification: config.HostVerification,
		}
	}
	if config.Auth {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		}
	}
	cluster.Timeout = ConvertTimeout(config.Timeout, time.Millisecond)
	cluster.ConnectTimeout = cluster.Timeout
	cluster.Consistency = gocql.ParseConsistency(config.Consistency)
	cluster.ProtoVersion = config.CqlProtocolVersion
	cluster.DisableInitialHostLookup = config.DisableInitialHostLookup
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: config.Retries}

	switch config.HostSelectionPolicy {
	case "roundrobin":
		cluster.PoolConfig.HostSelectionPolicy = gocql.RoundRobinHostPolicy()
	case "hostpool-simple":
		cluster.PoolConfig.HostSelectionPolicy = gocql.HostPoolHostPolicy(hostpool.New(nil))
	case "hostpool-epsilon-greedy":
		cluster.PoolConfig.HostSelectionPolicy = gocql.HostPoolHostPolicy(
			hostpool.NewEpsilonGreedy(nil, 0, &hostpool.LinearEpsilonValueCalculator{}),
		)
	case "tokenaware,roundrobin":
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(
			gocql.RoundRobinHostPolicy(),
		)
	case "tokenaware,hostpool-simple":
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(
			gocql.HostPoolHostPolicy(hostpool.New(nil)),
		)
	case "tokenaware,hostpool-epsilon-greedy":
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(
			gocql.HostPoolHostPolicy(
				hostpool.NewEpsilonGreedy(nil, 0, &hostpool.LinearEpsilonValueCalculator{}),
			),
		)
	default:
		return nil, fmt.Errorf("unknown HostSelectionPolicy '%q'", config.HostSelectionPolicy)
	}
	return cluster, nil
}

// Session wraps a gocql session together with the cluster config it was
// created from, so that a dead connection can be replaced with a fresh one.
type Session struct {
	sync.RWMutex
	wg                      sync.WaitGroup
	session                 *gocql.Session
	cluster                 *gocql.ClusterConfig
	shutdown                chan struct{}
	connectionCheckTimeout  time.Duration
	connectionCheckInterval time.Duration
	addrs                   string
}

// NewSession connects to the cluster described by config.
// If a connection check interval is configured it also starts a background
// refresher that replaces the session when the connection has been dead for
// longer than the configured timeout.
func NewSession(config *Config) (*Session, error) {
	cluster, err := BuildCluster(config)
	if err != nil {
		return nil, err
	}

	session, err := cluster.CreateSession()
	if err != nil {
		log.Errorf("cassandra: failed to create session: %v", err)
		return nil, err
	}

	s := &Session{
		session:                 session,
		cluster:                 cluster,
		shutdown:                make(chan struct{}),
		connectionCheckTimeout:  config.ConnectionCheckTimeout,
		connectionCheckInterval: config.ConnectionCheckInterval,
		addrs:                   config.Addrs,
	}

	if s.connectionCheckTimeout > 0 && s.connectionCheckInterval > 0 {
		s.wg.Add(1)
		go s.deadConnectionRefresh()
	}

	return s, nil
}

func (s *Session) Stop() {
	close(s.shutdown)
	s.wg.Wait()
	s.RLock()
	if s.session != nil && !s.session.Closed() {
		s.session.Close()
	}
	s.RUnlock()
}

// CurrentSession retrieves the current active gocql session
func (s *Session) CurrentSession() *gocql.Session {
	s.RLock()
	session := s.session
	s.RUnlock()
	return session
}

// deadConnectionRefresh runs a probe query every connectionCheckInterval.
// When the probe has been failing for longer than connectionCheckTimeout it
// recreates the session.
func (s *Session) deadConnectionRefresh() {
	defer s.wg.Done()

	log.Infof("cassandra: dead connection check enabled with an interval of %s", s.connectionCheckInterval.String())

	ticker := time.NewTicker(s.connectionCheckInterval)
	defer ticker.Stop()
	var downtime time.Duration

	for {
		if downtime >= s.connectionCheckTimeout {
			if !s.reconnect() {
				return
			}
			downtime = 0
		}

		select {
		case <-s.shutdown:
			log.Info("cassandra: received shutdown, exiting deadConnectionRefresh")
			return
		case <-ticker.C:
			s.RLock()
			// this query should work on all cassandra deployments
			err := s.session.Query("SELECT cql_version FROM system.local").Exec()
			s.RUnlock()
			if err == nil {
				downtime = 0
			} else {
				downtime += s.connectionCheckInterval
				log.Errorf("cassandra: could not execute connection check query for %v: %v", downtime.String(), err)
			}
		}
	}
}

// reconnect tries to establish a new session until it succeeds or shutdown is
// requested. It returns false when shutting down.
func (s *Session) reconnect() bool {
	s.Lock()
	defer s.Unlock()
	start := time.Now()
	for {
		select {
		case <-s.shutdown:
			log.Info("cassandra: received shutdown, exiting deadConnectionRefresh")
			return false
		default:
			log.Errorf("cassandra: creating new session using hosts: %v", s.addrs)
			session, err := s.cluster.CreateSession()
			if err != nil {
				log.Errorf("cassandra: error while attempting to recreate session, will retry after %v: %v", s.connectionCheckInterval.String(), err)
				time.Sleep(s.connectionCheckInterval)
				continue
			}
			old := s.session
			s.session = session
			if old != nil && !old.Closed() {
				old.Close()
			}
			log.Warnf("cassandra: reconnecting took %s", time.Since(start).String())
			return true
		}
	}
}
