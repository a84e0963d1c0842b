// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/bnlearn/pkg/ux"
	"github.com/AleutianAI/bnlearn/services/bayes"
	"github.com/AleutianAI/bnlearn/services/bayes/dataset"
	"github.com/AleutianAI/bnlearn/services/bayes/ensemble"
	"github.com/AleutianAI/bnlearn/services/bayes/evaluate"
	"github.com/AleutianAI/bnlearn/services/bayes/inference"
	"github.com/AleutianAI/bnlearn/services/bayes/params"
	"github.com/AleutianAI/bnlearn/services/bayes/store"
)

// =============================================================================
// Structure Learning
// =============================================================================

func renderLearn(resp *bayes.LearnResponse) {
	ux.Title(fmt.Sprintf("Learned structure (%s)", resp.Method))
	ux.KeyValue("variables", strconv.Itoa(resp.DAG.NumNodes()))
	ux.KeyValue("edges", strconv.Itoa(resp.DAG.NumEdges()))
	ux.KeyValue("rows", strconv.Itoa(resp.Rows))
	ux.KeyValue("score", fmt.Sprintf("%.4f (%s)", resp.Score, resp.ScoreType))
	if resp.Method == bayes.MethodPC {
		ux.KeyValue("tests", strconv.Itoa(resp.Tests))
	} else {
		ux.KeyValue("iterations", strconv.Itoa(resp.Iterations))
	}
	ux.KeyValue("duration", (time.Duration(resp.DurationMs) * time.Millisecond).String())

	if !resp.Consistent {
		ux.WarningBox("Inconsistent pattern", "PC orientations had no consistent extension; remaining edges follow variable order")
	}
	if !resp.Converged {
		ux.Warning("Search stopped before reaching a local optimum")
	}

	headers := []string{"from", "", "to"}
	if resp.PDAG != nil {
		headers = append(headers, "pattern")
	}
	rows := make([][]string, 0, resp.DAG.NumEdges())
	for _, e := range resp.DAG.Edges() {
		row := []string{resp.DAG.Name(e.From), string(ux.IconArrow), resp.DAG.Name(e.To)}
		if resp.PDAG != nil {
			kind := "compelled"
			if resp.PDAG.IsUndirected(e.From, e.To) {
				kind = "reversible"
			}
			row = append(row, kind)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		ux.Info("No edges: every variable is independent of the others")
		return
	}
	ux.Table(headers, rows)
}

// =============================================================================
// Ensembles
// =============================================================================

func renderSample(res *ensemble.Result, threshold float64) {
	ux.Title(fmt.Sprintf("Edge probabilities over %d runs (%s, seed %d)", res.Samples, res.Mode, res.Seed))

	edges := make([]ensemble.EdgeProbability, 0, len(res.Edges))
	for _, e := range res.Edges {
		if e.Probability >= threshold {
			edges = append(edges, e)
		}
	}
	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].Probability > edges[j].Probability
	})

	rows := make([][]string, len(edges))
	for i, e := range edges {
		prob := ux.FormatProbability(e.Probability)
		if ux.ShouldShowColors() {
			prob = ux.ProbabilityBar(e.Probability, 20)
		}
		rows[i] = []string{
			e.A + " " + string(ux.IconUndirected) + " " + e.B,
			prob,
			fmt.Sprintf("%d", e.Forward),
			fmt.Sprintf("%d", e.Backward),
		}
	}
	if len(rows) == 0 {
		ux.Info("No pair reached the threshold")
		return
	}
	ux.Table([]string{"pair", "probability", "a→b", "b→a"}, rows)
	if hidden := len(res.Edges) - len(edges); hidden > 0 {
		ux.Muted(fmt.Sprintf("%d pairs below %.2f hidden", hidden, threshold))
	}
}

// =============================================================================
// Parameters and Inference
// =============================================================================

func renderFit(resp *bayes.FitResponse) {
	ux.Title("Fitted network")
	if resp.ModelID != "" {
		ux.KeyValue("model", resp.ModelID)
	}
	if resp.Name != "" {
		ux.KeyValue("name", resp.Name)
	}
	ux.KeyValue("variables", strconv.Itoa(resp.Network.NumVars()))
	ux.KeyValue("parameters", strconv.Itoa(resp.NumParameters))
	ux.KeyValue("rows", strconv.Itoa(resp.Rows))
	renderCPTs(resp.Network)
}

// renderCPTs prints one table per variable: a row per parent configuration.
func renderCPTs(net *params.Network) {
	for i := 0; i < net.NumVars(); i++ {
		cpt := net.CPT(i)
		headers := append(append([]string{}, cpt.Parents...), cpt.States...)
		rows := make([][]string, cpt.NumConfigs())
		for c := range rows {
			row := make([]string, 0, len(headers))
			row = append(row, parentStates(net, cpt, c)...)
			for _, p := range cpt.Row(c) {
				row = append(row, ux.FormatProbability(p))
			}
			rows[c] = row
		}
		ux.Muted("")
		ux.Info(ux.Styles.Subtitle.Render("P(" + cpt.Variable + parentSuffix(cpt.Parents) + ")"))
		ux.Table(headers, rows)
	}
}

// parentStates names the parent states of configuration c.
func parentStates(net *params.Network, cpt *params.CPT, c int) []string {
	codes := dataset.DecodeConfig(c, cpt.ParentCards)
	states := make([]string, len(codes))
	for j, code := range codes {
		idx, _ := net.Index(cpt.Parents[j])
		states[j] = net.Variable(idx).States[code]
	}
	return states
}

func parentSuffix(parents []string) string {
	if len(parents) == 0 {
		return ""
	}
	return " | " + strings.Join(parents, ", ")
}

func renderQuery(res *inference.Result) {
	title := "P(" + strings.Join(res.Query, ", ")
	if len(res.Evidence) > 0 {
		ev := make([]string, 0, len(res.Evidence))
		for name, state := range res.Evidence {
			ev = append(ev, name+"="+state)
		}
		sort.Strings(ev)
		title += " | " + strings.Join(ev, ", ")
	}
	ux.Title(title + ")")

	for _, name := range res.Query {
		dist := res.Marginals[name]
		states := make([]string, len(dist))
		probs := make([]float64, len(dist))
		for i, sp := range dist {
			states[i] = sp.Value
			probs[i] = sp.Probability
		}
		ux.Distribution(name, states, probs)
	}

	mapParts := make([]string, 0, len(res.MAP))
	for _, name := range res.Query {
		mapParts = append(mapParts, name+"="+res.MAP[name])
	}
	ux.KeyValue("map", fmt.Sprintf("%s (%s)", strings.Join(mapParts, ", "), ux.FormatProbability(res.MAPProbability)))
	if len(res.Evidence) > 0 {
		ux.KeyValue("P(evidence)", ux.FormatProbability(res.EvidenceProbability))
	}
	if len(res.EliminationOrder) > 0 {
		ux.Muted("eliminated: " + strings.Join(res.EliminationOrder, ", "))
	}
}

// =============================================================================
// Evaluation and Stored Models
// =============================================================================

func renderComparison(cmp *evaluate.Comparison) {
	ux.Title("Structure comparison")
	ux.Summary(
		ux.Stat{Label: "hamming", Value: strconv.Itoa(cmp.Hamming), Good: cmp.Hamming == 0},
		ux.Stat{Label: "shd", Value: strconv.Itoa(cmp.SHD), Good: cmp.SHD == 0},
		ux.Stat{Label: "precision", Value: fmt.Sprintf("%.2f", cmp.Precision)},
		ux.Stat{Label: "recall", Value: fmt.Sprintf("%.2f", cmp.Recall)},
	)

	var rows [][]string
	for _, e := range cmp.MissingEdges {
		rows = append(rows, []string{e[0] + " → " + e[1], "missing"})
	}
	for _, e := range cmp.ExtraEdges {
		rows = append(rows, []string{e[0] + " → " + e[1], "extra"})
	}
	for _, e := range cmp.ReversedEdges {
		rows = append(rows, []string{e[0] + " → " + e[1], "reversed"})
	}
	if len(rows) > 0 {
		ux.Table([]string{"edge", "difference"}, rows)
	}
}

func renderModels(models []store.Summary) {
	if len(models) == 0 {
		ux.Info("No stored networks")
		return
	}
	rows := make([][]string, len(models))
	for i, m := range models {
		rows[i] = []string{m.ID, m.Name, strconv.Itoa(m.Rows), m.CreatedAt.Format(time.RFC3339)}
	}
	ux.Table([]string{"id", "name", "rows", "created"}, rows)
}

func renderModel(model *store.Model) {
	ux.Title("Stored network " + model.ID)
	if model.Name != "" {
		ux.KeyValue("name", model.Name)
	}
	ux.KeyValue("created", model.CreatedAt.Format(time.RFC3339))
	ux.KeyValue("rows", strconv.Itoa(model.Rows))
	ux.KeyValue("parameters", strconv.Itoa(model.Network.NumParameters()))
	renderCPTs(model.Network)
}
