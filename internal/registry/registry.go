// Package registry holds the static reference tables that tie charging sites
// to the identifiers used by the time-series store.
package registry

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps short site codes to site names and lists the project
// identifiers known to the time-series store. Projects are either bare
// numbers ("7571") or prefix-number composites ("7951-001").
type Registry struct {
	Sites map[string]string
	// Order is the code order name matching walks; see Codes.
	Order    []string
	Projects []string
	Signals  map[int]string
}

func Default() Registry {
	sites := make(map[string]string, len(defaultSites))
	order := make([]string, 0, len(defaultSites))
	for _, s := range defaultSites {
		sites[s.code] = s.name
		order = append(order, s.code)
	}
	signals := make(map[int]string, 4)
	for n := 1; n <= 4; n++ {
		signals[n] = fmt.Sprintf("EVI_P%d.ILI.EVSE_OutVoltage", n)
	}
	return Registry{
		Sites:    sites,
		Order:    order,
		Projects: append([]string(nil), defaultProjects...),
		Signals:  signals,
	}
}

// ShortCode returns the site code part of a project identifier.
func ShortCode(project string) string {
	if i := strings.LastIndex(project, "-"); i >= 0 {
		return project[i+1:]
	}
	return project
}

// SiteName resolves a project identifier or short code to a site name,
// falling back to the input.
func (r Registry) SiteName(project string) string {
	if name, ok := r.Sites[project]; ok {
		return name
	}
	if name, ok := r.Sites[ShortCode(project)]; ok {
		return name
	}
	return project
}

// SignalFor returns the voltage field recorded for a connector.
func (r Registry) SignalFor(connector int) (string, bool) {
	field, ok := r.Signals[connector]
	return field, ok && field != ""
}

// Codes lists site codes in Order, then any code missing from Order in
// lexical order.
func (r Registry) Codes() []string {
	codes := make([]string, 0, len(r.Sites))
	seen := make(map[string]bool, len(r.Sites))
	for _, code := range r.Order {
		if _, ok := r.Sites[code]; ok && !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	var rest []string
	for code := range r.Sites {
		if !seen[code] {
			rest = append(rest, code)
		}
	}
	sort.Strings(rest)
	return append(codes, rest...)
}

var defaultProjects = []string{
	"7571", "7796", "7797", "7798", "7800", "7803", "7804", "7809", "7812", "7813", "7814", "7818", "7819", "7825", "7828", "7833",
	"7951-001", "7951-003", "7951-050", "7951-051", "7951-054", "7951-057", "7951-062", "7951-063", "7951-065",
	"7951-067", "7951-071", "7951-079", "7951-081", "7951-083", "7951-085", "7951-086", "7951-087", "7951-088",
	"7951-091", "7951-093", "7951-094", "7951-096", "7951-099", "7951-100", "7951-108", "7951-112", "7951-114",
	"7951-115", "7951-118", "7951-121", "7951-122", "7951-124", "7951-125", "7951-128", "7951-130", "7951-131",
	"7951-134", "7951-135", "7951-139", "7951-142", "7951-149",
	"8266-156", "8266-160", "8266-161", "8266-163", "8266-165", "8266-166", "8266-167", "8266-168", "8266-174",
	"8266-179", "8266-184", "8266-185", "8266-187", "8266-191", "8266-196", "8266-197", "8266-199", "8266-203",
	"8266-208", "8266-209", "8266-210", "8266-211", "8266-214", "8266-217", "8266-218", "8266-221", "8266-222",
	"8266-223", "8266-227", "8266-230", "8266-234", "8266-240", "8266-246", "8266-247", "8266-250", "8266-254",
	"8266-259", "8266-266", "8266-269", "8266-272", "8266-273", "8266-274",
	"8558-276", "8558-281", "8558-282", "8558-283", "8558-289", "8558-292", "8558-301", "8558-304", "8558-311",
	"8558-313", "8558-314", "8558-317", "8558-318", "8558-320", "8558-321", "8558-322", "8558-324", "8558-328",
	"8558-330", "8558-336", "8558-337", "8558-339", "8558-340",
}

// defaultSites keeps the declaration order name matching walks.
var defaultSites = []struct{ code, name string }{
	{"7571", "Orignolles"}, {"7796", "Meru"}, {"7797", "Charleval"}, {"7798", "Triel"},
	{"7800", "Saujon"}, {"7803", "Cierzac"}, {"7804", "Os Marsillon"}, {"7809", "St Pere en retz"},
	{"7812", "Hagetmau"}, {"7813", "Biscarosse"}, {"7814", "Auriolles"}, {"7818", "Verneuil"},
	{"7819", "Allaire"}, {"7825", "Vezin"}, {"7828", "Pontchateau"}, {"7833", "Pontfaverger"},
	{"001", "Baud"}, {"003", "Maurs"}, {"050", "Mezidon"}, {"051", "Derval"}, {"054", "Campagne"},
	{"057", "Mailly le Chateau"}, {"062", "Winnezeele"}, {"063", "Diges"}, {"065", "Vernouillet"},
	{"067", "Orbec"}, {"071", "St Renan"}, {"079", "Molompize"}, {"081", "Carquefou"}, {"083", "Vaupillon"},
	{"085", "Pleumartin"}, {"086", "Caumont sur Aure"}, {"087", "Getigne"}, {"088", "Chinon"},
	{"091", "La Roche sur Yon"}, {"093", "Aubigne sur Layon"}, {"094", "Bonvillet"}, {"096", "Rambervillers"},
	{"099", "Blere"}, {"100", "Plouasne"}, {"108", "Champniers"}, {"112", "Nissan Lez Enserune"},
	{"114", "Combourg"}, {"115", "Vimoutiers"}, {"118", "Beaumont de Lomagne"}, {"121", "Sueves"},
	{"122", "Maen Roch"}, {"124", "St Leon sur L Isle"}, {"125", "Mirecourt"}, {"128", "La Voge les Bains"},
	{"130", "Amanvillers"}, {"131", "Guerlesquin"}, {"134", "Guerande"}, {"135", "Riscle"}, {"139", "Avrille"},
	{"142", "Domfront"}, {"149", "Couesmes"}, {"156", "Ste Catherine"}, {"160", "Andel"}, {"161", "Chazey Bons"},
	{"163", "Lauzerte"}, {"165", "Trie la ville"}, {"166", "Hambach"}, {"167", "Beaugency"}, {"168", "Carcassonne"},
	{"174", "Sable sur Sarthe"}, {"179", "Taden"}, {"184", "Rue"}, {"185", "Quevilloncourt"},
	{"187", "St Victor de Morestel"}, {"191", "St Hilaire du Harcouet"}, {"196", "Hémonstoir"}, {"197", "Amily"},
	{"199", "Henrichemont"}, {"203", "Couleuvre"}, {"208", "St Pierre le Moutier 2"}, {"209", "Bourbon L Archambaut"},
	{"210", "Brou"}, {"211", "Neulise"}, {"214", "St Jean le vieux"}, {"217", "Periers"}, {"218", "Quievrecourt"},
	{"221", "Chazelle sur Lyon"}, {"222", "Montverdun"}, {"223", "Dormans"}, {"227", "Glonville 2"},
	{"230", "Montalieu Vercieu"}, {"234", "Nesle Normandeuse"}, {"240", "Noyal Pontivy"}, {"246", "Vitre 2"},
	{"247", "St Amour"}, {"250", "Dourdan"}, {"254", "Roanne"}, {"259", "Plufur"}, {"266", "Boinville en Mantois"},
	{"269", "Loche"}, {"272", "Bonnieres sur Seine"}, {"273", "Piffonds"}, {"274", "St Benin d Azy"},
	{"276", "Niort St Florent"}, {"281", "Chauffailles"}, {"282", "St Vincent d Autejac"}, {"283", "Culhat"},
	{"289", "Loireauxence"}, {"292", "Reuil"}, {"301", "Coteaux sur Loire"}, {"304", "Le Mans 2"},
	{"311", "Chantrigne"}, {"313", "St Thelo"}, {"314", "St Pierre la cour"}, {"317", "Nievroz"},
	{"318", "Val Revermont"}, {"320", "Mondoubleau"}, {"321", "Kernoues"}, {"322", "Yvetot Bocage"},
	{"324", "Douchy Montcorbon"}, {"328", "Sully sur Loire B"}, {"330", "Vincey"}, {"336", "Ville en Vermois"},
	{"337", "Virandeville"}, {"339", "Reims"}, {"340", "Reims B"}, {"342", "Charge"}, {"343", "St Benoit la Foret"},
	{"349", "Dombrot le Sec"}, {"352", "Riorges"}, {"362", "Montauban B"}, {"365", "Dogneville 2"},
	{"366", "Brieulles sur meuse"}, {"368", "Melesse"}, {"372", "Pujaudran"}, {"374", "Plouye"},
	{"376", "Dampierre en Burly"}, {"381", "Dommartin les Remiremont"}, {"382", "St Igny de Roche"},
	{"384", "Guengat"}, {"386", "Epeigne sur deme 2"}, {"388", "Maiche"}, {"391", "Wittenheim"}, {"394", "Lacres"},
	{"395", "Trelivan"}, {"397", "Vironvay"}, {"399", "Abbeville les Conflans"}, {"401", "Orgeval"},
	{"402", "Mantes la Ville"}, {"403", "Liny devant Dun B"}, {"412", "St Leger sur Roanne"}, {"414", "Mairy Mainville"},
}
