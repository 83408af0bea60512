package faults

import "sort"

// Equipment describes one monitored block of a site and the two status words
// it publishes: IC (interlock conditions) and PC (permissive conditions).
type Equipment struct {
	Key      string
	Name     string
	Title    string
	ICField  string
	PCField  string
	ICLabels map[int]string
	PCLabels map[int]string
}

var batteryIC = map[int]string{
	0: "IC00 - DC contactor line open",
	1: "IC01 - DC Preload contactor open",
	2: "IC02 - DC Preload Fuse",
	3: "IC03 - Battery bank connected",
	4: "IC04 - Inverter not energize",
}

var batteryPC = map[int]string{
	0:  "PC00 - RIO no fault communication",
	1:  "PC01 - Battery bank no fault communication",
	2:  "PC02 - Preload fuses",
	3:  "PC03 - Discordance DC line contactor",
	4:  "PC04 - Discordance Preload contactor",
	5:  "PC05 - No Time OUT",
	6:  "PC06 - Inverter ready",
	7:  "PC07 - Upstream PDC connected",
	8:  "PC08 - MeasVDC > 670 VDC",
	9:  "PC09 - Tilt sensor FLT",
	10: "PC10 - External Emergency stop",
}

var chargePointIC = map[int]string{
	0:  "IC00 : Main sequence running",
	1:  "IC01 : Ev contactor not closed",
	2:  "IC02 : No over temp Self",
	3:  "IC03 : CB line close",
	6:  "IC06 : OCPP Running",
	7:  "IC07 : HMI communication",
	8:  "IC08 : No Open OCPP TR",
	9:  "IC09 : DCBM COM",
	10: "IC10 : PDC unvailable from CPO",
	11: "IC11 : Power limit JBOX = 0",
}

var chargePointPC = map[int]string{
	0:  "PC00 : RIO COm",
	1:  "PC01 : CB line close",
	2:  "PC02 : Inverter M1 Ready",
	3:  "PC03 : UpstreamSequence no fault",
	4:  "PC04 : Ev contactor no discordance",
	6:  "PC06 : No over temp Self",
	7:  "PC07 : No TO",
	8:  "PC08 : Plug no Over Temp CCS",
	9:  "PC09 : Over voltage",
	12: "PC12 : Communication EVI",
	13: "PC13 : EVI Emergency stop",
	14: "PC14 : Manu indispo",
}

func battery(key, seq, name, title string) Equipment {
	return Equipment{
		Key: key, Name: name, Title: title,
		ICField: seq + ".OLI.A.IC1", PCField: seq + ".OLI.A.PC1",
		ICLabels: batteryIC, PCLabels: batteryPC,
	}
}

func chargePoint(key, seq, title string) Equipment {
	return Equipment{
		Key: key, Name: key, Title: title,
		ICField: seq + ".OLI.A.IC1", PCField: seq + ".OLI.A.PC1",
		ICLabels: chargePointIC, PCLabels: chargePointPC,
	}
}

var equipments = []Equipment{
	battery("DC1", "SEQ02", "Variateur HC1", "Batterie DC1 (SEQ02)"),
	battery("DC2", "SEQ03", "Variateur HC2", "Batterie DC2 (SEQ03)"),
	chargePoint("PDC1", "SEQ12", "Point de charge 1 (SEQ12)"),
	chargePoint("PDC2", "SEQ22", "Point de charge 2 (SEQ22)"),
	chargePoint("PDC3", "SEQ13", "Point de charge 3 (SEQ13)"),
	chargePoint("PDC4", "SEQ23", "Point de charge 4 (SEQ23)"),
}

// Equipments returns the monitored equipment list ordered by key.
func Equipments() []Equipment {
	out := append([]Equipment(nil), equipments...)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// DecodeBits lists the set bit positions of a 32-bit status word, lowest
// first.
func DecodeBits(word int64) []int {
	var out []int
	for i := 0; i < 32; i++ {
		if word&(1<<i) != 0 {
			out = append(out, i)
		}
	}
	return out
}

func bitSet(word int64, bit int) bool {
	return word&(1<<bit) != 0
}
