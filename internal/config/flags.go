package config

import "github.com/spf13/pflag"

// Flags registers the search settings on fs and returns a function that
// copies every flag the user actually set into a Config. Flags left at
// their defaults do not override the file or the environment.
func Flags(fs *pflag.FlagSet) func(*Config) {
	f := Default()

	fs.StringVar(&f.DB, "db", f.DB, "SQLite outcome index to mirror results into")
	fs.StringVar(&f.Transform, "transform", f.Transform, "chain transform (md5, sha256, blake3)")
	fs.UintVar(&f.Bits, "bits", f.Bits, "search width in bits")
	fs.UintVar(&f.TableBits, "table-bits", f.TableBits, "table key width in bits (0 = search width)")
	fs.UintVar(&f.DistBits, "dist-bits", f.DistBits, "distinguished point bits")
	fs.IntVar(&f.Stages, "stages", f.Stages, "pipeline stages per pipe")
	fs.IntVar(&f.Pipes, "pipes", f.Pipes, "number of pipes")
	fs.Uint64Var(&f.Freq, "freq", f.Freq, "pipeline clock in Hz")
	fs.StringVar(&f.Driver, "driver", f.Driver, "chain driver (farm, sim)")
	fs.IntVar(&f.Workers, "workers", f.Workers, "reconcile workers (0 = engine default)")
	fs.IntVar(&f.FarmWorkers, "farm-workers", f.FarmWorkers, "software farm workers (0 = one per CPU)")
	fs.Uint64Var(&f.Seed, "seed", f.Seed, "seed for the software farm key (0 = from the clock)")
	fs.IntVar(&f.MaxHits, "max-hits", f.MaxHits, "stop after this many collisions (0 = never)")
	fs.StringVar(&f.OTLPEndpoint, "otlp-endpoint", f.OTLPEndpoint, "OTLP/HTTP endpoint for reconcile traces")

	return func(c *Config) {
		fs.Visit(func(fl *pflag.Flag) {
			switch fl.Name {
			case "db":
				c.DB = f.DB
			case "transform":
				c.Transform = f.Transform
			case "bits":
				c.Bits = f.Bits
			case "table-bits":
				c.TableBits = f.TableBits
			case "dist-bits":
				c.DistBits = f.DistBits
			case "stages":
				c.Stages = f.Stages
			case "pipes":
				c.Pipes = f.Pipes
			case "freq":
				c.Freq = f.Freq
			case "driver":
				c.Driver = f.Driver
			case "workers":
				c.Workers = f.Workers
			case "farm-workers":
				c.FarmWorkers = f.FarmWorkers
			case "seed":
				c.Seed = f.Seed
			case "max-hits":
				c.MaxHits = f.MaxHits
			case "otlp-endpoint":
				c.OTLPEndpoint = f.OTLPEndpoint
			}
		})
	}
}
