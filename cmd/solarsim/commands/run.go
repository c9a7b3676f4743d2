package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridflex/flexsim/internal/pkg/solar"
)

func runCmd() *cobra.Command {
	var (
		configPath string
		steps      int
		seed       int64
		outPath    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation and write per-step metrics to CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := solar.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if steps > 0 {
				cfg.Simulation.Steps = steps
			}
			if cmd.Flags().Changed("seed") {
				cfg.Simulation.Seed = seed
			}

			model, err := solar.NewModel(cfg)
			if err != nil {
				return err
			}

			results := make([]solar.StepMetrics, 0, cfg.Simulation.Steps)
			for i := 0; i < cfg.Simulation.Steps; i++ {
				m := model.Step()
				results = append(results, m)
				if (i+1)%12 == 0 || i == cfg.Simulation.Steps-1 {
					fmt.Printf("step %d: adoption %.1f%%, avg price $%.3f/kWh\n",
						m.Step, m.AdoptionRate*100, m.AvgMarketPrice)
				}
			}

			if err := solar.SaveResults(results, outPath); err != nil {
				return err
			}
			fmt.Println("results written to", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config/solar.yaml", "simulation config file")
	cmd.Flags().IntVar(&steps, "steps", 0, "override configured step count")
	cmd.Flags().Int64Var(&seed, "seed", 0, "override configured random seed")
	cmd.Flags().StringVarP(&outPath, "out", "o", "results.csv", "metrics output file")
	return cmd
}
