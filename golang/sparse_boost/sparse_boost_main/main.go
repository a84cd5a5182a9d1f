package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	flag "github.com/spf13/pflag"
	"github.com/tarstars/sparse_bridged_boosting/golang/sparse_boost/sbl"
)

func decodeConfig(srcConfig string, out interface{}) {
	file, err := os.Open(srcConfig)
	sbl.HandleError(err)
	defer func() { sbl.HandleError(file.Close()) }()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	sbl.HandleError(decoder.Decode(out))
}

//DataConfig points to a dataset either in libsvm format or as a pair of npy files.
type DataConfig struct {
	Description      string `json:"description"`
	FileNameLibSVM   string `json:"filename_libsvm"`
	FileNameFeatures string `json:"filename_features"`
	FileNameTarget   string `json:"filename_target"`
	NumFeatures      int    `json:"num_features"`
}

func loadData(dataConfig DataConfig) *sbl.Dataset {
	var data *sbl.Dataset
	var err error
	if dataConfig.FileNameLibSVM != "" {
		log.Print("\ttry to load libsvm <", dataConfig.FileNameLibSVM, ">")
		data, err = sbl.ReadLibSVM(dataConfig.FileNameLibSVM)
	} else {
		data, err = sbl.ReadNpyDataset(dataConfig.FileNameFeatures, dataConfig.FileNameTarget)
	}
	sbl.HandleError(err)

	if dataConfig.NumFeatures > data.NumFeatures {
		data.NumFeatures = dataConfig.NumFeatures
	}
	if dataConfig.Description != "" {
		data.SetDescription(dataConfig.Description)
	}
	return data
}

type TrainConfig struct {
	Train               DataConfig   `json:"train"`
	Tests               []DataConfig `json:"tests"`
	FileNamePrediction  string       `json:"filename_prediction"`
	FileNameMetrics     string       `json:"filename_metrics"`
	FileNameCurves      string       `json:"filename_learning_curves"`
	PicturesDirectory   string       `json:"pictures_directory"`
	FigureType          string       `json:"figure_type"`
	NStages             int          `json:"n_stages"`
	NBags               int          `json:"n_bags"`
	SubSample           float64      `json:"sub_sample"`
	Seed                int64        `json:"seed"`
	BaseScore           float64      `json:"base_score"`
	Loss                string       `json:"loss"`
	Backend             string       `json:"backend"`
	RegLambda           float64      `json:"reg_lambda"`
	MinSplitGain        float64      `json:"min_split_gain"`
	MinChildWeight      float64      `json:"min_child_weight"`
	MinInstancesPerNode int          `json:"min_instances_per_node"`
	MaxDepth            int          `json:"max_depth"`
	LearningRate        float64      `json:"learning_rate"`
	ThreadsNum          int          `json:"threads_num"`
	Diagnostics         bool         `json:"diagnostics"`
}

func defaultTrainConfig() TrainConfig {
	params := sbl.DefaultBoosterParams()
	return TrainConfig{
		FigureType:          "svg",
		NStages:             params.NStages,
		NBags:               params.NBags,
		SubSample:           params.SubSample,
		Loss:                "mse",
		Backend:             params.Backend,
		RegLambda:           params.Tree.RegLambda,
		MinSplitGain:        params.Tree.MinSplitGain,
		MinChildWeight:      params.Tree.MinChildWeight,
		MinInstancesPerNode: params.Tree.MinInstancesPerNode,
		MaxDepth:            params.Tree.MaxDepth,
		LearningRate:        params.Tree.LearningRate,
		ThreadsNum:          params.Tree.ThreadsNum,
	}
}

func (trainConfig TrainConfig) boosterParams() sbl.BoosterParams {
	loss, err := sbl.LossByName(trainConfig.Loss)
	sbl.HandleError(err)
	return sbl.BoosterParams{
		Tree: sbl.TreeParams{
			RegLambda:           trainConfig.RegLambda,
			MinSplitGain:        trainConfig.MinSplitGain,
			MinChildWeight:      trainConfig.MinChildWeight,
			MinInstancesPerNode: trainConfig.MinInstancesPerNode,
			MaxDepth:            trainConfig.MaxDepth,
			LearningRate:        trainConfig.LearningRate,
			ThreadsNum:          trainConfig.ThreadsNum,
			Diagnostics:         trainConfig.Diagnostics,
		},
		NStages:   trainConfig.NStages,
		NBags:     trainConfig.NBags,
		SubSample: trainConfig.SubSample,
		Seed:      trainConfig.Seed,
		BaseScore: trainConfig.BaseScore,
		LossKind:  loss,
		Backend:   trainConfig.Backend,
	}
}

func dumpMetrics(registry *prometheus.Registry, fileName string) {
	families, err := registry.Gather()
	sbl.HandleError(err)

	dst, err := os.Create(fileName)
	sbl.HandleError(err)
	defer func() { sbl.HandleError(dst.Close()) }()

	for _, family := range families {
		_, err := expfmt.MetricFamilyToText(dst, family)
		sbl.HandleError(err)
	}
}

func train(srcConfig string) {
	trainConfig := defaultTrainConfig()
	decodeConfig(srcConfig, &trainConfig)

	dataTrain := loadData(trainConfig.Train)
	var dataTests []*sbl.Dataset
	for _, testConfig := range trainConfig.Tests {
		dataTest := loadData(testConfig)
		if dataTest.NumFeatures > dataTrain.NumFeatures {
			log.Printf("test set %q has %d features, train set has %d", testConfig.Description, dataTest.NumFeatures, dataTrain.NumFeatures)
		}
		dataTests = append(dataTests, dataTest)
	}

	metrics := sbl.NewMetrics()
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.Collectors()...)

	clf, err := sbl.Train(dataTrain, trainConfig.boosterParams(), metrics, dataTests...)
	sbl.HandleError(err)

	if trainConfig.FileNamePrediction != "" {
		sbl.HandleError(sbl.WriteNpy(trainConfig.FileNamePrediction, clf.PredictRows(dataTrain.Rows, nil)))
	}
	if trainConfig.FileNameCurves != "" {
		sbl.HandleError(clf.DumpLearningCurves(trainConfig.FileNameCurves))
	}
	if trainConfig.FileNameMetrics != "" {
		dumpMetrics(registry, trainConfig.FileNameMetrics)
	}
	if trainConfig.PicturesDirectory != "" {
		sbl.HandleError(clf.RenderTrees(0, "tree", trainConfig.FigureType, trainConfig.PicturesDirectory))
	}
}

type ColumnsConfig struct {
	Data        DataConfig `json:"data"`
	Diagnostics bool       `json:"diagnostics"`
}

func columns(srcConfig string) {
	var columnsConfig ColumnsConfig
	decodeConfig(srcConfig, &columnsConfig)

	data := loadData(columnsConfig.Data)
	sortedColumns := sbl.BuildColumns(data.NumFeatures, data.Rows)
	for feature, column := range sortedColumns {
		if len(column) == 0 {
			fmt.Printf("f_%d: empty\n", feature)
			continue
		}
		fmt.Printf("f_%d: %d values in [%g, %g]\n", feature, len(column), column[len(column)-1].Value, column[0].Value)
	}

	if columnsConfig.Diagnostics {
		insIDs, values, counts := sbl.FlattenColumns(sortedColumns)
		sbl.HandleError(sbl.CheckFlattened(sortedColumns, insIDs, values, counts))
		log.Print("flattened columns are consistent")
	}
}

func main() {
	runMode := flag.StringP("mode", "m", "train", "you can select either 'train' or 'columns' modes")
	config := flag.StringP("config", "c", "sparse_config.json", "a config file for the run of the program")
	memprofile := flag.String("memprofile", "", "write memory profile to `file`")

	flag.Parse()

	modes := map[string]func(string){
		"train":   train,
		"columns": columns,
	}
	run, ok := modes[*runMode]
	if !ok {
		log.Fatalf("unknown mode %q", *runMode)
	}
	run(*config)

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		sbl.HandleError(err)
		defer func() { sbl.HandleError(f.Close()) }()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal("could not write memory profile: ", err)
		}
	}
}
