// Package cli contains the camcalib command line tool.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"

	"go.viam.com/camcalib/rimage/transform"
)

const (
	generalFlagDebug      = "debug"
	generalFlagLogFile    = "log-file"
	generalFlagConfig     = "config"
	generalFlagNoProgress = "no-progress"

	flagRows       = "rows"
	flagCols       = "cols"
	flagSquareSize = "square-size"
	flagBackend    = "backend"
	flagNoRefine   = "no-refine"

	flagFixPrincipalPoint = "fix-principal-point"
	flagFixAspectRatio    = "fix-aspect-ratio"
	flagZeroTangentDist   = "zero-tangent-dist"
	flagRationalModel     = "rational-model"

	flagAlgorithm       = "algorithm"
	flagCalibration     = "calibration"
	flagCorrespondences = "correspondences"
	flagZ               = "z"

	flagOriginIndex = "origin-index"
	flagSpacing     = "spacing"
	flagOriginX     = "origin-x"
	flagOriginY     = "origin-y"
	flagXAxis       = "x-axis"
	flagYAxis       = "y-axis"
	flagOneBased    = "one-based"

	flagOutput     = "output"
	flagFormat     = "format"
	flagNotes      = "notes"
	flagAllFormats = "all-formats"
	flagChart      = "chart"
	flagOverlayDir = "overlay-dir"
	flagCSVDir     = "csv-dir"
	flagMaxImages  = "max-images"
	flagPixels     = "px-per-square"
)

func boardFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  flagRows,
			Usage: "inner corners per board column",
		},
		&cli.IntFlag{
			Name:  flagCols,
			Usage: "inner corners per board row",
		},
		&cli.Float64Flag{
			Name:  flagSquareSize,
			Usage: "side of one board square in millimetres",
		},
	}
}

func detectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  flagBackend,
			Usage: "corner finding backend (saddle, or opencv when built with it)",
		},
		&cli.BoolFlag{
			Name:  flagNoRefine,
			Usage: "skip sub-pixel corner refinement",
		},
	}
}

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  flagFixPrincipalPoint,
			Usage: "pin the principal point to the image center",
		},
		&cli.BoolFlag{
			Name:  flagFixAspectRatio,
			Usage: "force fy to equal fx",
		},
		&cli.BoolFlag{
			Name:  flagZeroTangentDist,
			Usage: "force tangential distortion to zero",
		},
		&cli.BoolFlag{
			Name:  flagRationalModel,
			Usage: "fit the 8 coefficient rational distortion model",
		},
	}
}

func gridFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  flagOriginIndex,
			Usage: "1-based index of the corner at the grid origin",
		},
		&cli.Float64Flag{
			Name:  flagSpacing,
			Usage: "physical distance between neighbouring corners (default: square size)",
		},
		&cli.Float64Flag{
			Name:  flagOriginX,
			Usage: "physical X of the origin corner",
		},
		&cli.Float64Flag{
			Name:  flagOriginY,
			Usage: "physical Y of the origin corner",
		},
		&cli.StringFlag{
			Name:  flagXAxis,
			Usage: "grid direction of physical +X: +col, -col, +row or -row",
		},
		&cli.StringFlag{
			Name:  flagYAxis,
			Usage: "grid direction of physical +Y: +col, -col, +row or -row",
		},
	}
}

func saveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagOutput,
			Aliases: []string{"o"},
			Usage:   "write the calibration to `FILE`",
		},
		&cli.StringFlag{
			Name:  flagFormat,
			Usage: "calibration file format: json, yaml or sqlite (default: from the extension)",
		},
		&cli.StringFlag{
			Name:  flagNotes,
			Usage: "free text stored with the calibration",
		},
	}
}

func calibrationFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     flagCalibration,
		Aliases:  []string{"c"},
		Usage:    "calibration `FILE` to use",
		Required: true,
	}
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func newApp() *cli.App {
	return &cli.App{
		Name:                 "camcalib",
		Usage:                "calibrate cameras from checkerboard images and map pixels to the world",
		Version:              transform.SoftwareVersion,
		HideHelpCommand:      true,
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    generalFlagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  generalFlagLogFile,
				Usage: "also write logs to the rotated `FILE`",
			},
			&cli.StringFlag{
				Name:  generalFlagConfig,
				Usage: "load session configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  generalFlagNoProgress,
				Usage: "do not show progress spinners",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "detect",
				Usage:     "find the checkerboard in images",
				ArgsUsage: "<image or directory>...",
				Flags: flags(boardFlags(), detectionFlags(), []cli.Flag{
					&cli.StringFlag{
						Name:  flagOverlayDir,
						Usage: "write corner overlays to `DIR`",
					},
					&cli.StringFlag{
						Name:  flagCSVDir,
						Usage: "write detected corners as CSV to `DIR`",
					},
					&cli.BoolFlag{
						Name:  flagOneBased,
						Usage: "number CSV rows from 1",
					},
				}),
				Action: DetectAction,
			},
			{
				Name:      "calibrate",
				Usage:     "estimate the camera's intrinsics from checkerboard images",
				ArgsUsage: "<image or directory>...",
				Flags: flags(boardFlags(), detectionFlags(), modelFlags(), saveFlags(), []cli.Flag{
					&cli.BoolFlag{
						Name:  flagAllFormats,
						Usage: "write the calibration in every file format",
					},
					&cli.StringFlag{
						Name:  flagChart,
						Usage: "draw the per image error chart to `FILE` (png, svg or pdf)",
					},
				}),
				Action: CalibrateAction,
			},
			{
				Name:      "pose",
				Usage:     "solve the camera's pose over the work surface and store it with the calibration",
				ArgsUsage: "[image]...",
				Flags: flags(boardFlags(), detectionFlags(), gridFlags(), saveFlags(), []cli.Flag{
					calibrationFlag(),
					&cli.StringFlag{
						Name:    flagAlgorithm,
						Aliases: []string{"a"},
						Usage:   "pose algorithm: iterative, epnp, p3p, ap3p, ippe or ippe_square",
					},
					&cli.StringFlag{
						Name:  flagCorrespondences,
						Usage: "read image to world correspondences from a CSV `FILE` instead of images",
					},
					&cli.Float64Flag{
						Name:  flagZ,
						Usage: "world Z of the board plane",
					},
				}),
				Action: PoseAction,
			},
			{
				Name:      "pixel-to-world",
				Usage:     "map pixels to world points on a plane of constant Z",
				ArgsUsage: "<u,v>...",
				Flags: []cli.Flag{
					calibrationFlag(),
					&cli.Float64Flag{
						Name:  flagZ,
						Usage: "world Z of the plane",
					},
				},
				Action: PixelToWorldAction,
			},
			{
				Name:      "world-to-pixel",
				Usage:     "project world points into the image",
				ArgsUsage: "<x,y,z>...",
				Flags:     []cli.Flag{calibrationFlag()},
				Action:    WorldToPixelAction,
			},
			{
				Name:  "grid",
				Usage: "print the physical coordinates of every board corner as CSV",
				Flags: flags(boardFlags(), gridFlags(), []cli.Flag{
					&cli.StringFlag{
						Name:    flagOutput,
						Aliases: []string{"o"},
						Usage:   "write the CSV to `FILE` instead of stdout",
					},
					&cli.BoolFlag{
						Name:  flagOneBased,
						Usage: "number points from 1",
					},
				}),
				Action: GridAction,
			},
			{
				Name:      "info",
				Usage:     "show a calibration file",
				ArgsUsage: "<calibration file>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagChart,
						Usage: "draw the per image error chart to `FILE`",
					},
				},
				Action: InfoAction,
			},
			{
				Name:   "schema",
				Usage:  "print the JSON schema of calibration files",
				Action: SchemaAction,
			},
			{
				Name:      "watch",
				Usage:     "calibrate continuously from images as they appear in a directory",
				ArgsUsage: "<directory>",
				Flags: flags(boardFlags(), detectionFlags(), modelFlags(), saveFlags(), []cli.Flag{
					&cli.IntFlag{
						Name:  flagMaxImages,
						Usage: "stop after this many usable images (0 watches until interrupted)",
					},
				}),
				Action: WatchAction,
			},
			{
				Name:      "target",
				Usage:     "render a printable checkerboard",
				ArgsUsage: "<image file>",
				Flags: flags(boardFlags(), []cli.Flag{
					&cli.IntFlag{
						Name:  flagPixels,
						Value: 100,
						Usage: "pixels per board square",
					},
				}),
				Action: TargetAction,
			},
		},
	}
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app := newApp()
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
