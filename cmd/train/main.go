// Command train runs an offline training experiment described by a
// YAML or JSON config file.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/samuelfneumann/offlineq/experiment"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "", "Path of the YAML or JSON "+
		"experiment config")
	flagOutput = flag.String("output", "", "If set, overrides the path "+
		"where the serving module is saved")
	flagEpochs = flag.Int("epochs", 0, "If positive, overrides the number "+
		"of training epochs")
	flagGPU = flag.Bool("gpu", false, "Request GPU training")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if *flagConfig == "" {
		klog.Exit("-config is required")
	}
	config, err := experiment.LoadConfig(*flagConfig)
	if err != nil {
		klog.Exitf("Failed to load config: %+v", err)
	}
	if *flagOutput != "" {
		config.OutputPath = *flagOutput
	}
	if *flagEpochs > 0 {
		config.Epochs = *flagEpochs
	}
	config.UseGPU = config.UseGPU || *flagGPU

	exp, err := experiment.NewOffline(config, nil)
	if err != nil {
		klog.Exitf("Failed to create experiment: %+v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := exp.Run(ctx); err != nil {
		klog.Exitf("Experiment %v failed: %+v", exp.RunID(), err)
	}
	if err := exp.Save(); err != nil {
		klog.Exitf("Failed to save tracked data: %+v", err)
	}
	klog.Infof("Experiment %v finished after %d steps", exp.RunID(),
		exp.Steps())
}
