// Package main is the entry point for the reflector controller.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/kube-reflector/reflector/pkg/config"
	"github.com/kube-reflector/reflector/pkg/constants"
	"github.com/kube-reflector/reflector/pkg/controller"
	"github.com/kube-reflector/reflector/pkg/gateway"
	"github.com/kube-reflector/reflector/pkg/index"
	"github.com/kube-reflector/reflector/pkg/kinds"
	"github.com/kube-reflector/reflector/pkg/metrics"
	"github.com/kube-reflector/reflector/pkg/watcher"
)

var setupLog = ctrl.Log.WithName("setup")

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "",
		"Path to an additional configuration file, applied after the default layers.")
	opts := zap.Options{}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
	log := ctrl.Log.WithName(constants.ControllerName)

	paths := config.DefaultPaths
	if configPath != "" {
		paths = append(paths, configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		setupLog.Error(err, "failed to load configuration")
		os.Exit(1)
	}

	setupLog.Info("starting reflector",
		"sessionTimeout", cfg.SessionTimeout().String(),
		"queueCapacity", cfg.Watcher.QueueCapacity,
		"metricsAddr", cfg.MetricsAddr,
	)

	restConfig, err := buildRESTConfig(cfg.Kubeconfig)
	if err != nil {
		setupLog.Error(err, "failed to resolve cluster configuration")
		os.Exit(1)
	}
	dyn, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		setupLog.Error(err, "failed to create cluster client")
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	gw := gateway.NewClient(dyn)

	ctx := ctrl.SetupSignalHandler()

	namespaceWatcher := watcher.New(log, gw, kinds.Namespace, m, cfg.Watcher.QueueCapacity, cfg.SessionTimeout())
	watchers := []*watcher.Watcher{namespaceWatcher}
	for _, kind := range kinds.Mirrored() {
		reconciler := controller.New(log, gw, kind, index.NewStore(), m)
		w := watcher.New(log, gw, kind, m, cfg.Watcher.QueueCapacity, cfg.SessionTimeout())
		w.Register(reconciler)
		namespaceWatcher.Register(reconciler.NamespaceHandler())
		watchers = append(watchers, w)
	}

	server := newHTTPServer(cfg.MetricsAddr, registry)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			setupLog.Error(err, "metrics server failed")
		}
	}()

	var wg sync.WaitGroup
	for _, w := range watchers {
		wg.Add(1)
		go func(w *watcher.Watcher) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		setupLog.Error(err, "metrics server shutdown failed")
	}
	wg.Wait()
	setupLog.Info("shutdown complete")
}

func newHTTPServer(addr string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

// buildRESTConfig resolves cluster credentials: an explicit kubeconfig path
// wins, otherwise the in-cluster service account or the default loading
// rules apply.
func buildRESTConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return ctrl.GetConfig()
}
