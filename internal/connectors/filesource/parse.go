package filesource

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/tidwall/gjson"
)

func parseCSV(r io.Reader, delimiter string) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	if delimiter != "" {
		reader.Comma = []rune(delimiter)[0]
	}

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return &Dataset{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
		if header[i] == "" {
			header[i] = fmt.Sprintf("column_%d", i+1)
		}
	}

	ds := &Dataset{Columns: header}
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		rec := make(Record, len(header))
		for i, name := range header {
			var v any
			if i < len(fields) {
				v = fields[i]
			}
			rec[i] = Value{Name: name, Value: v}
		}
		ds.Records = append(ds.Records, rec)
	}
	return ds, nil
}

// parseJSON reads a top-level array of objects, or the array selected by
// the gjson recordPath. A single object becomes a single record. Nested
// objects are flattened with "." separators; arrays are kept as raw JSON.
func parseJSON(r io.Reader, recordPath string) (*Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON document")
	}

	root := gjson.ParseBytes(data)
	if recordPath != "" {
		root = root.Get(recordPath)
		if !root.Exists() {
			return nil, fmt.Errorf("record path %q matched nothing", recordPath)
		}
	}

	var items []gjson.Result
	switch {
	case root.IsArray():
		items = root.Array()
	case root.IsObject():
		items = []gjson.Result{root}
	default:
		return nil, errors.New("JSON records must be objects")
	}

	ds := &Dataset{}
	cols := &columnSet{}
	for _, item := range items {
		if !item.IsObject() {
			continue
		}
		var rec Record
		flattenJSON("", item, &rec)
		for _, v := range rec {
			cols.add(v.Name)
		}
		ds.Records = append(ds.Records, rec)
	}
	ds.Columns = cols.names
	return ds, nil
}

func flattenJSON(prefix string, obj gjson.Result, rec *Record) {
	obj.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if prefix != "" {
			name = prefix + "." + name
		}
		if value.IsObject() {
			flattenJSON(name, value, rec)
			return true
		}
		*rec = append(*rec, Value{Name: name, Value: jsonValue(value)})
		return true
	})
}

func jsonValue(v gjson.Result) any {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		if i := v.Int(); float64(i) == v.Num {
			return i
		}
		return v.Num
	case gjson.String:
		return v.Str
	default:
		return v.Raw
	}
}

var defaultXMLRecordPaths = []string{"//record", "//item", "//row"}

// parseXML treats each element matched by recordPath (or the first of
// //record, //item, //row that matches) as a record whose attributes and
// child elements are fields. Documents with no record structure become a
// single record of every leaf element with text.
func parseXML(r io.Reader, recordPath string) (*Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}

	var nodes []*xmlquery.Node
	if recordPath != "" {
		nodes, err = xmlquery.QueryAll(doc, recordPath)
		if err != nil {
			return nil, fmt.Errorf("record path %q: %w", recordPath, err)
		}
	} else {
		for _, path := range defaultXMLRecordPaths {
			if nodes = xmlquery.Find(doc, path); len(nodes) > 0 {
				break
			}
		}
	}

	ds := &Dataset{}
	cols := &columnSet{}
	if len(nodes) == 0 && recordPath == "" {
		if rec := flatXMLRecord(doc); len(rec) > 0 {
			for _, v := range rec {
				cols.add(v.Name)
			}
			ds.Records = append(ds.Records, rec)
		}
	}
	for _, node := range nodes {
		rec := xmlRecord(node)
		for _, v := range rec {
			cols.add(v.Name)
		}
		ds.Records = append(ds.Records, rec)
	}
	ds.Columns = cols.names
	return ds, nil
}

func xmlRecord(node *xmlquery.Node) Record {
	var rec Record
	for _, attr := range node.Attr {
		rec = append(rec, Value{Name: attr.Name.Local, Value: attr.Value})
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != xmlquery.ElementNode {
			continue
		}
		rec = append(rec, Value{Name: child.Data, Value: strings.TrimSpace(child.InnerText())})
	}
	return rec
}

func flatXMLRecord(doc *xmlquery.Node) Record {
	var rec Record
	seen := make(map[string]bool)
	var walk func(n *xmlquery.Node)
	walk = func(n *xmlquery.Node) {
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if child.Type != xmlquery.ElementNode {
				continue
			}
			if hasElementChild(child) {
				walk(child)
				continue
			}
			text := strings.TrimSpace(child.InnerText())
			if text == "" || seen[child.Data] {
				continue
			}
			seen[child.Data] = true
			rec = append(rec, Value{Name: child.Data, Value: text})
		}
	}
	walk(doc)
	return rec
}

func hasElementChild(n *xmlquery.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return true
		}
	}
	return false
}
