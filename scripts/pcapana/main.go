// pcapana prints the first packets of a capture file, for eyeballing what a
// lab container actually produced.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"

	"pcapflow/pkg/pcap"
)

func main() {
	limit := flag.Int("n", 5, "Number of packets to print (0 = all)")
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("Usage: pcapana [-n count] <path_to_pcap_file>")
	}

	reader, err := pcap.NewReader(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer reader.Close()

	i := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatal(err)
		}
		if rec.Unclassified {
			fmt.Printf("[%s] unclassified len=%d\n",
				rec.Timestamp.Format("15:04:05.000"), rec.Length)
		} else {
			fmt.Printf("[%s] %s:%d -> %s:%d proto=%d len=%d\n",
				rec.Timestamp.Format("15:04:05.000"),
				rec.Tuple.SrcIP, rec.Tuple.SrcPort,
				rec.Tuple.DstIP, rec.Tuple.DstPort,
				rec.Tuple.Protocol, rec.Length,
			)
		}
		i++
		if *limit > 0 && i >= *limit {
			break
		}
	}
}
