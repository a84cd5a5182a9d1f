package sbl

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path"

	"github.com/goccy/go-graphviz"
)

//HandleError panics on a non-nil error.
func HandleError(err error) {
	if err != nil {
		log.Panic(err)
	}
}

//Ensemble is the result of training: one sequence of trees per bag.
type Ensemble struct {
	BaseScore           float64
	Bags                [][]*RegTree
	LearningCurveTitles []string
	LearningCurves      [][]float64 // per round, one value per monitored dataset
}

//NumRounds returns the number of trees in each bag.
func (ensemble *Ensemble) NumRounds() int {
	if len(ensemble.Bags) == 0 {
		return 0
	}
	return len(ensemble.Bags[0])
}

//PredictRow averages the raw outputs of the bags. treesNumber limits the number of rounds used, nil uses all.
func (ensemble *Ensemble) PredictRow(row []KeyValue, treesNumber *int) float64 {
	if len(ensemble.Bags) == 0 {
		return ensemble.BaseScore
	}
	n := ensemble.NumRounds()
	if treesNumber != nil && *treesNumber < n {
		n = *treesNumber
	}
	total := 0.0
	for _, trees := range ensemble.Bags {
		for _, tree := range trees[:n] {
			total += tree.PredictRow(row)
		}
	}
	return ensemble.BaseScore + total/float64(len(ensemble.Bags))
}

//PredictRows predicts every row.
func (ensemble *Ensemble) PredictRows(rows SparseRows, treesNumber *int) []float64 {
	prediction := make([]float64, len(rows))
	for p, row := range rows {
		prediction[p] = ensemble.PredictRow(row, treesNumber)
	}
	return prediction
}

//Train runs the rounds of boosting on the training data. Every round grows one tree per bag.
//Monitored datasets get their RMSE logged and stored after every round.
func Train(data *Dataset, params BoosterParams, metrics *Metrics, monitored ...*Dataset) (*Ensemble, error) {
	ws, err := NewWorkspace(data, params)
	if err != nil {
		return nil, err
	}
	session, err := NewSession(ws, params.Backend, metrics)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Print("closing streams: ", err)
		}
	}()

	ensemble := &Ensemble{BaseScore: params.BaseScore, Bags: make([][]*RegTree, len(ws.Bags))}
	monitoredPredictions := make([][]float64, len(monitored))
	for ind, currentData := range monitored {
		description := fmt.Sprintf("set %d", ind)
		if currentData.Description != nil {
			description = *currentData.Description
		}
		ensemble.LearningCurveTitles = append(ensemble.LearningCurveTitles, description)
		monitoredPredictions[ind] = make([]float64, currentData.NumInstances())
	}

	for stage := 0; stage < params.NStages; stage++ {
		log.Printf("Tree number %d\n", stage+1)
		trees, err := session.GrowRound()
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", stage+1, err)
		}
		for bagID, tree := range trees {
			ensemble.Bags[bagID] = append(ensemble.Bags[bagID], tree)
		}

		var curveRow []float64
		for ind, currentData := range monitored {
			for p, row := range currentData.Rows {
				sum := 0.0
				for _, tree := range trees {
					sum += tree.PredictRow(row)
				}
				monitoredPredictions[ind][p] += sum / float64(len(trees))
			}
			current := make([]float64, len(monitoredPredictions[ind]))
			for p, value := range monitoredPredictions[ind] {
				current[p] = params.BaseScore + value
			}
			value := Rmse(currentData.Labels, current)
			log.Print("RMSE for ", ensemble.LearningCurveTitles[ind], " = ", value)
			curveRow = append(curveRow, value)
		}
		if len(monitored) > 0 {
			ensemble.LearningCurves = append(ensemble.LearningCurves, curveRow)
		}
	}
	return ensemble, nil
}

//LearningCurvesDump is the on-disk form of the learning curves.
type LearningCurvesDump struct {
	Titles []string    `json:"titles"`
	Values [][]float64 `json:"values"`
}

//DumpLearningCurves writes titles and per-round values of the monitored datasets as json.
func (ensemble *Ensemble) DumpLearningCurves(filenameLearningCurves string) error {
	learningCurvesDump := LearningCurvesDump{
		Titles: ensemble.LearningCurveTitles,
		Values: ensemble.LearningCurves,
	}
	if learningCurvesDump.Values == nil {
		learningCurvesDump.Values = make([][]float64, 0)
	}

	bytesResult, err := json.MarshalIndent(learningCurvesDump, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filenameLearningCurves, bytesResult, 0o644)
}

//RenderTrees draws the trees of one bag into files named prefix_00000.format in the directory.
func (ensemble *Ensemble) RenderTrees(bagID int, dumpPrefix, figureType, picturesDirectory string) error {
	graphvizType, ok := map[string]graphviz.Format{
		"png": graphviz.PNG,
		"svg": graphviz.SVG,
		"jpg": graphviz.JPG,
		"dot": graphviz.XDOT,
	}[figureType]
	if !ok {
		return fmt.Errorf("unknown figure type %q", figureType)
	}
	if bagID < 0 || bagID >= len(ensemble.Bags) {
		return fmt.Errorf("bag %d is out of range [0, %d)", bagID, len(ensemble.Bags))
	}

	for graphInd, currentTree := range ensemble.Bags[bagID] {
		filename := fmt.Sprintf("%s_%05d.%s", dumpPrefix, graphInd, figureType)
		graphViz, graph := currentTree.DrawGraph()
		err := graphViz.RenderFilename(graph, graphvizType, path.Join(picturesDirectory, filename))
		HandleError(graph.Close())
		HandleError(graphViz.Close())
		if err != nil {
			return err
		}
	}
	return nil
}
